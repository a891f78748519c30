package service

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"companion-go/internal/model"
)

const (
	defaultMetricDays = 14
	maxMetricDays     = 90
	lutealPhaseDays   = 14
)

// MetricsService 提供健康指标看板。设备数据尚未接入，数据按用户确定性生成。
type MetricsService interface {
	Dashboard(userID string, days int) *model.HealthDashboard
}

type metricsService struct {
	now func() time.Time
}

// NewMetricsService 创建一个新的 MetricsService 实例。
func NewMetricsService() MetricsService {
	return &metricsService{now: time.Now}
}

// Dashboard 生成最近 days 天的指标，同一用户同一天的结果相同。
func (s *metricsService) Dashboard(userID string, days int) *model.HealthDashboard {
	if days <= 0 {
		days = defaultMetricDays
	}
	if days > maxMetricDays {
		days = maxMetricDays
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	seed := h.Sum64()

	cycleLength := 26 + int(seed%7)
	offset := int((seed >> 8) % uint64(cycleLength))
	today := model.NewDate(s.now().UTC()).Time()

	cycleDayOf := func(t time.Time) int {
		epochDays := int(t.Unix() / 86400)
		return (epochDays+offset)%cycleLength + 1
	}
	ovulationDay := cycleLength - lutealPhaseDays

	d := &model.HealthDashboard{
		UserID:      userID,
		CycleDay:    cycleDayOf(today),
		CycleLength: cycleLength,
		Mocked:      true,
	}

	// 易孕窗口：排卵日前 5 天至排卵日
	cycleStart := today.AddDate(0, 0, -(d.CycleDay - 1))
	for i := ovulationDay - 5; i <= ovulationDay; i++ {
		d.FertileWindow = append(d.FertileWindow, cycleStart.AddDate(0, 0, i-1).Format("2006-01-02"))
	}

	for i := days - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		label := day.Format("2006-01-02")
		rng := rand.New(rand.NewSource(int64(seed) ^ day.Unix()))

		temp := 36.3 + rng.Float64()*0.15
		if cycleDayOf(day) > ovulationDay {
			temp += 0.35
		}
		d.BasalTemp = append(d.BasalTemp, model.MetricPoint{Date: label, Value: round(temp, 2)})
		d.SleepHours = append(d.SleepHours, model.MetricPoint{Date: label, Value: round(6+rng.Float64()*3, 1)})
		d.Steps = append(d.Steps, model.MetricPoint{Date: label, Value: float64(4000 + rng.Intn(8000))})
	}
	return d
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
