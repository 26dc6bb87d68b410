package model

import (
	"maps"
	"slices"
)

// MetaVersion — текущая версия схемы meta.
const MetaVersion = 1

// Зарезервированные ключи meta.
const (
	MetaKeyVersion        = "_v"
	MetaKeyDepts          = "depts"
	MetaKeyPhone          = "phone"
	MetaKeyEmergencyName  = "emergency_name"
	MetaKeyEmergencyPhone = "emergency_phone"
)

// Meta — расширяемый набор атрибутов сотрудника (employees.meta, jsonb).
// Чтение терпимо к отсутствующим ключам и неожиданным типам: возвращаются
// значения по умолчанию, ошибок нет. Неизвестные ключи сохраняются как есть.
type Meta map[string]any

// Version возвращает версию схемы; 0 — запись до версионирования.
func (m Meta) Version() int {
	switch v := m[MetaKeyVersion].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Depts возвращает meta.depts или nil.
func (m Meta) Depts() []string {
	switch v := m[MetaKeyDepts].(type) {
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// String возвращает строковое значение ключа или "".
func (m Meta) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Phone — телефон сотрудника.
func (m Meta) Phone() string { return m.String(MetaKeyPhone) }

// EmergencyName — контактное лицо для экстренной связи.
func (m Meta) EmergencyName() string { return m.String(MetaKeyEmergencyName) }

// EmergencyPhone — телефон для экстренной связи.
func (m Meta) EmergencyPhone() string { return m.String(MetaKeyEmergencyPhone) }

// WithDepts возвращает копию meta с новым списком отделов.
func (m Meta) WithDepts(depts []string) Meta {
	out := m.Clone()
	out[MetaKeyDepts] = slices.Clone(depts)
	return out
}

// WithString возвращает копию meta с установленным строковым ключом.
func (m Meta) WithString(key, value string) Meta {
	out := m.Clone()
	out[key] = value
	return out
}

// Clone копирует meta и проставляет текущую версию.
func (m Meta) Clone() Meta {
	out := make(Meta, len(m)+1)
	maps.Copy(out, m)
	out[MetaKeyVersion] = MetaVersion
	return out
}
