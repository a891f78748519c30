package model

// Clinician 是存储在 Elasticsearch 中的诊所医生目录文档。
type Clinician struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Specialties []string `json:"specialties"`
	Clinic      string   `json:"clinic"`
	City        string   `json:"city"`
	Languages   []string `json:"languages"`
	Bio         string   `json:"bio"`
	Rating      float64  `json:"rating"`
	Telehealth  bool     `json:"telehealth"`
	PhotoObject string   `json:"photo_object,omitempty"`
}

// ClinicianDTO 定义了返回给前端的医生条目。
type ClinicianDTO struct {
	Clinician
	PhotoURL string  `json:"photoUrl,omitempty"`
	Score    float64 `json:"score"`
}

// ClinicianQuery 描述目录检索条件。
type ClinicianQuery struct {
	Text       string
	Specialty  string
	City       string
	Telehealth *bool
	Page       int
	Size       int
}
