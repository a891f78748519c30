package model

// MetricPoint 是健康指标时间序列中的一个点。
type MetricPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// HealthDashboard 是健康指标看板的响应结构（目前为模拟数据）。
type HealthDashboard struct {
	UserID        string        `json:"userId"`
	CycleDay      int           `json:"cycleDay"`
	CycleLength   int           `json:"cycleLength"`
	FertileWindow []string      `json:"fertileWindow"`
	BasalTemp     []MetricPoint `json:"basalTemp"`
	SleepHours    []MetricPoint `json:"sleepHours"`
	Steps         []MetricPoint `json:"steps"`
	Mocked        bool          `json:"mocked"`
}
