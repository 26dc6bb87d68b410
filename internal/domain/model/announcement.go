package model

import (
	"fmt"
	"time"
)

// Category — категория объявления.
type Category string

// Категории объявлений.
const (
	CategoryGeneral   Category = "GENERAL"
	CategoryTech      Category = "TECH"
	CategoryOpsMgmt   Category = "OPS_MGMT"
	CategoryStratMgmt Category = "STRAT_MGMT"
	CategorySector    Category = "SECTOR"
)

// Categories — все категории в порядке отображения.
var Categories = []Category{
	CategoryGeneral,
	CategoryTech,
	CategoryOpsMgmt,
	CategoryStratMgmt,
	CategorySector,
}

// ParseCategory проверяет строку на принадлежность перечислению.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("недопустимая категория %q", s)
}

// Announcement — объявление на доске (таблица announcements).
// TargetDept задан тогда и только тогда, когда Category = SECTOR.
type Announcement struct {
	ID             string
	Title          string
	Content        string
	Category       Category
	TargetDept     *string
	AttachmentURL  *string
	AttachmentName *string
	IsArchived     bool
	CreatedAt      time.Time
	// CreatedBy — UUID автора (nil, если автор удалён)
	CreatedBy *string
}

// AnnouncementView — объявление в списке с данными для текущего пользователя.
type AnnouncementView struct {
	Announcement
	// AuthorName — имя автора
	AuthorName string
	// AckCount — число ознакомившихся
	AckCount int
	// HasAcknowledged — текущий пользователь ознакомился
	HasAcknowledged bool
}

// Acknowledgment — отметка об ознакомлении.
type Acknowledgment struct {
	UserID         string
	FullName       string
	Department     string
	AcknowledgedAt time.Time
}

// AnnouncementQuery — выборка объявлений, уже ограниченная правами доступа.
type AnnouncementQuery struct {
	// Categories — видимые категории без учёта SECTOR
	Categories []Category
	// SectorDepartments — отделы, чьи SECTOR-объявления видимы
	SectorDepartments []string
	// Archived — выбирать архивные (true) или действующие (false)
	Archived bool
	// Category — дополнительный фильтр по категории (опционально)
	Category *Category
	// ViewerID — пользователь, для которого считается HasAcknowledged
	ViewerID string
}

// AnnouncementLogs — журнал ознакомления.
type AnnouncementLogs struct {
	Acknowledged []Acknowledgment
	Pending      []RosterEntry
}
