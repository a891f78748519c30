package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"companion-go/internal/model"
	"companion-go/pkg/es"
	"companion-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// ClinicianRepository 基于 Elasticsearch 的医生目录。
type ClinicianRepository interface {
	Search(ctx context.Context, q model.ClinicianQuery) ([]model.ClinicianDTO, int64, error)
	Index(ctx context.Context, c *model.Clinician) error
}

type esClinicianRepository struct {
	esClient  *elasticsearch.Client
	indexName string
}

// NewClinicianRepository 创建一个新的 ClinicianRepository 实例。
func NewClinicianRepository(esClient *elasticsearch.Client, indexName string) ClinicianRepository {
	return &esClinicianRepository{esClient: esClient, indexName: indexName}
}

// BuildClinicianQuery 构建检索语句：关键词走 multi_match，其余条件放入 filter 不参与打分。
func BuildClinicianQuery(q model.ClinicianQuery) map[string]interface{} {
	boolQuery := map[string]interface{}{}

	if text := strings.TrimSpace(q.Text); text != "" {
		boolQuery["must"] = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     text,
				"fields":    []string{"name^3", "specialties^2", "clinic", "title", "bio"},
				"fuzziness": "AUTO",
			},
		}
	} else {
		boolQuery["must"] = map[string]interface{}{"match_all": map[string]interface{}{}}
	}

	var filters []map[string]interface{}
	if q.Specialty != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"specialties": q.Specialty}})
	}
	if q.City != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"city": strings.ToLower(q.City)}})
	}
	if q.Telehealth != nil {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"telehealth": *q.Telehealth}})
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort": []interface{}{
			"_score",
			map[string]interface{}{"rating": map[string]interface{}{"order": "desc"}},
		},
		"from": (q.Page - 1) * q.Size,
		"size": q.Size,
	}
}

// Search 执行目录检索。
func (r *esClinicianRepository) Search(ctx context.Context, q model.ClinicianQuery) ([]model.ClinicianDTO, int64, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(BuildClinicianQuery(q)); err != nil {
		return nil, 0, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := r.esClient.Search(
		r.esClient.Search.WithContext(ctx),
		r.esClient.Search.WithIndex(r.indexName),
		r.esClient.Search.WithBody(&buf),
		r.esClient.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[ClinicianRepository] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, 0, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source model.Clinician `json:"_source"`
				Score  float64         `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, 0, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.ClinicianDTO, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.ClinicianDTO{Clinician: hit.Source, Score: hit.Score})
	}
	return results, esResponse.Hits.Total.Value, nil
}

// Index 写入或覆盖一位医生。
func (r *esClinicianRepository) Index(ctx context.Context, c *model.Clinician) error {
	return es.IndexDocument(ctx, r.esClient, r.indexName, c.ID, c)
}
