// dto.go — типы запросов и ответов HTTP API и маппинг domain → API.
package handlers

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/zerocore/portal/internal/domain/model"
)

// --- Аутентификация ---

type tokenRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=1024"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        userDTO   `json:"user"`
}

type userDTO struct {
	ID          string               `json:"id"`
	Username    string               `json:"username"`
	Name        string               `json:"name"`
	Email       *openapi_types.Email `json:"email"`
	Role        string               `json:"role"`
	Title       string               `json:"title"`
	Departments []string             `json:"depts"`
	Permissions []string             `json:"permissions"`
}

type meResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	TokenRole   string     `json:"token_role"`
	Departments []string   `json:"depts"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type departmentsResponse struct {
	Departments []string `json:"departments"`
	Source      string   `json:"source"`
}

// --- Сотрудники ---

type employeeListItemDTO struct {
	UserID     string               `json:"user_id"`
	Username   string               `json:"username"`
	Email      *openapi_types.Email `json:"email"`
	Role       string               `json:"role"`
	IsActive   bool                 `json:"is_active"`
	FullName   string               `json:"full_name"`
	Department string               `json:"department"`
	Title      string               `json:"title"`
	Location   string               `json:"location"`
}

type employeeListResponse struct {
	Items []employeeListItemDTO `json:"items"`
	Total int                   `json:"total"`
}

type employeeDTO struct {
	UserID          string               `json:"user_id"`
	EmployeeID      string               `json:"employee_id"`
	Username        string               `json:"username"`
	Email           *openapi_types.Email `json:"email"`
	Role            string               `json:"role"`
	IsActive        bool                 `json:"is_active"`
	LastLogin       *time.Time           `json:"last_login"`
	CreatedAt       time.Time            `json:"created_at"`
	FullName        string               `json:"full_name"`
	CPF             *string              `json:"cpf"`
	Department      string               `json:"department"`
	Departments     []string             `json:"depts"`
	Location        string               `json:"location"`
	Title           string               `json:"title"`
	AdmissionDate   *openapi_types.Date  `json:"admission_date"`
	TerminationDate *openapi_types.Date  `json:"termination_date"`
	BirthDate       *openapi_types.Date  `json:"birth_date"`
	Phone           string               `json:"phone"`
	EmergencyName   string               `json:"emergency_name"`
	EmergencyPhone  string               `json:"emergency_phone"`
}

// employeeUpdateRequest — частичное обновление карточки. Отсутствующее
// поле не меняется. department без depts означает depts=[department].
type employeeUpdateRequest struct {
	CPF             *string             `json:"cpf" validate:"omitempty,max=14"`
	Location        *string             `json:"location" validate:"omitempty,max=120"`
	Department      *string             `json:"department" validate:"omitempty,max=64"`
	Departments     []string            `json:"depts" validate:"omitempty,max=20,dive,required,max=64"`
	AdmissionDate   *openapi_types.Date `json:"admission_date"`
	TerminationDate *openapi_types.Date `json:"termination_date"`
	BirthDate       *openapi_types.Date `json:"birth_date"`
	Phone           *string             `json:"phone" validate:"omitempty,max=32"`
	EmergencyName   *string             `json:"emergency_name" validate:"omitempty,max=120"`
	EmergencyPhone  *string             `json:"emergency_phone" validate:"omitempty,max=32"`
}

type employeeUpdateResponse struct {
	Employee      employeeDTO `json:"employee"`
	DirectorySync string      `json:"directory_sync"`
	Warning       string      `json:"warning,omitempty"`
}

type syncResponse struct {
	TotalDirectory int       `json:"total_directory"`
	Processed      int       `json:"processed"`
	Failed         int       `json:"failed"`
	SyncedAt       time.Time `json:"synced_at"`
}

// --- Объявления ---

type announcementDTO struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	Category        string    `json:"category"`
	TargetDept      *string   `json:"target_dept"`
	AttachmentURL   *string   `json:"attachment_url"`
	AttachmentName  *string   `json:"attachment_name"`
	IsArchived      bool      `json:"is_archived"`
	CreatedAt       time.Time `json:"created_at"`
	CreatedBy       *string   `json:"created_by"`
	AuthorName      string    `json:"author_name,omitempty"`
	AckCount        int       `json:"ack_count"`
	HasAcknowledged bool      `json:"has_acknowledged"`
}

type announcementListResponse struct {
	Items []announcementDTO `json:"items"`
}

type acknowledgmentDTO struct {
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	Department     string    `json:"department"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
}

type pendingDTO struct {
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	Department string `json:"department"`
}

type logsResponse struct {
	Acknowledged []acknowledgmentDTO `json:"acknowledged"`
	Pending      []pendingDTO        `json:"pending"`
}

// --- Маппинг domain → API ---

func emailPtr(s *string) *openapi_types.Email {
	if s == nil {
		return nil
	}
	e := openapi_types.Email(*s)
	return &e
}

func datePtr(t *time.Time) *openapi_types.Date {
	if t == nil {
		return nil
	}
	return &openapi_types.Date{Time: *t}
}

func timePtr(d *openapi_types.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func mapEmployeeListItem(e model.EmployeeListItem) employeeListItemDTO {
	return employeeListItemDTO{
		UserID:     e.UserID,
		Username:   e.Username,
		Email:      emailPtr(e.Email),
		Role:       e.Role.String(),
		IsActive:   e.IsActive,
		FullName:   e.FullName,
		Department: e.Department,
		Title:      e.Title,
		Location:   e.Location,
	}
}

func mapEmployee(p *model.UserProfile) employeeDTO {
	e := &p.Employee
	return employeeDTO{
		UserID:          p.User.ID,
		EmployeeID:      e.ID,
		Username:        p.User.Username,
		Email:           emailPtr(p.User.Email),
		Role:            p.User.Role.String(),
		IsActive:        p.User.IsActive,
		LastLogin:       p.User.LastLogin,
		CreatedAt:       p.User.CreatedAt,
		FullName:        e.FullName,
		CPF:             e.CPF,
		Department:      e.Department,
		Departments:     e.Departments(),
		Location:        e.Location,
		Title:           e.Title,
		AdmissionDate:   datePtr(e.AdmissionDate),
		TerminationDate: datePtr(e.TerminationDate),
		BirthDate:       datePtr(e.BirthDate),
		Phone:           e.Meta.Phone(),
		EmergencyName:   e.Meta.EmergencyName(),
		EmergencyPhone:  e.Meta.EmergencyPhone(),
	}
}

func mapAnnouncement(a *model.Announcement) announcementDTO {
	return announcementDTO{
		ID:             a.ID,
		Title:          a.Title,
		Content:        a.Content,
		Category:       string(a.Category),
		TargetDept:     a.TargetDept,
		AttachmentURL:  a.AttachmentURL,
		AttachmentName: a.AttachmentName,
		IsArchived:     a.IsArchived,
		CreatedAt:      a.CreatedAt,
		CreatedBy:      a.CreatedBy,
	}
}

func mapAnnouncementView(v model.AnnouncementView) announcementDTO {
	dto := mapAnnouncement(&v.Announcement)
	dto.AuthorName = v.AuthorName
	dto.AckCount = v.AckCount
	dto.HasAcknowledged = v.HasAcknowledged
	return dto
}

func mapLogs(l *model.AnnouncementLogs) logsResponse {
	resp := logsResponse{
		Acknowledged: make([]acknowledgmentDTO, len(l.Acknowledged)),
		Pending:      make([]pendingDTO, len(l.Pending)),
	}
	for i, a := range l.Acknowledged {
		resp.Acknowledged[i] = acknowledgmentDTO{
			UserID:         a.UserID,
			Name:           a.FullName,
			Department:     a.Department,
			AcknowledgedAt: a.AcknowledgedAt,
		}
	}
	for i, p := range l.Pending {
		resp.Pending[i] = pendingDTO{
			UserID:     p.UserID,
			Username:   p.Username,
			Name:       p.FullName,
			Department: p.Department,
		}
	}
	return resp
}
