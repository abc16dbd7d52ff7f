package store

import (
	"sort"
	"strings"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
)

// keepDepartments copies departments of prev that next dropped.
// Experts are never removed once configured.
func keepDepartments(prev, next *entities.BusinessProfile) {
	names := make([]string, 0, len(prev.DepartmentConfigs))
	for name := range prev.DepartmentConfigs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := next.Department(name); ok {
			continue
		}
		dc := prev.DepartmentConfigs[name]
		if dc.Department == "" {
			dc.Department = name
		}
		next.AddDepartment(dc)
	}

	for _, d := range prev.SelectedDepartments {
		found := false
		for _, n := range next.SelectedDepartments {
			if strings.EqualFold(d, n) {
				found = true
				break
			}
		}
		if !found {
			next.SelectedDepartments = append(next.SelectedDepartments, d)
		}
	}
}
