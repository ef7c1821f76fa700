package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type GroupType string

const (
	GroupAdminParent   GroupType = "ADMIN_PARENT"
	GroupAdminLecturer GroupType = "ADMIN_LECTURER"
	GroupDepartment    GroupType = "DEPARTMENT"
	GroupCustom        GroupType = "CUSTOM"
)

func ParseGroupType(s string) (GroupType, error) {
	t := GroupType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case "":
		return GroupCustom, nil
	case GroupAdminParent, GroupAdminLecturer, GroupDepartment, GroupCustom:
		return t, nil
	}
	return "", fmt.Errorf("unknown group type %q", s)
}

// Group holds membership and admin sets as sorted, duplicate-free slices.
// Version increments on every metadata update.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IconURL     string    `json:"iconUrl,omitempty"`
	Type        GroupType `json:"type"`
	CreatedBy   string    `json:"createdBy"`
	IsActive    bool      `json:"isActive"`
	Members     []string  `json:"members"`
	Admins      []string  `json:"admins"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (g *Group) HasMember(userID string) bool {
	_, ok := slices.BinarySearch(g.Members, userID)
	return ok
}

func (g *Group) IsAdmin(userID string) bool {
	_, ok := slices.BinarySearch(g.Admins, userID)
	return ok
}

// SortedSet returns ids trimmed, deduplicated and sorted, without empty entries.
func SortedSet(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
