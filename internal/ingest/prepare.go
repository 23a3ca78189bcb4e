package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/declarant/pkg/types"
)

// Semantic column roles a user can map onto source columns.
const (
	RoleProductName    = "product_name"
	RoleDescription    = "description"
	RoleCategory       = "category"
	RoleBrand          = "brand"
	RoleAdditionalInfo = "additional_info"
)

// Roles lists every mappable role; product_name is the only required one.
var Roles = []string{RoleProductName, RoleDescription, RoleCategory, RoleBrand, RoleAdditionalInfo}

// Mapping assigns semantic roles to source column names.
type Mapping map[string]string

// ErrNoItems is returned when no row carries a usable product name.
var ErrNoItems = errors.New("no valid items: every row has an empty product name")

// Validate checks the mapping against the table's columns.
func (m Mapping) Validate(t *Table) error {
	if strings.TrimSpace(m[RoleProductName]) == "" {
		return errors.New("mapping must assign a product_name column")
	}
	for role, col := range m {
		if col == "" {
			continue
		}
		if !validRole(role) {
			return fmt.Errorf("unknown mapping role %q", role)
		}
		if columnIndex(t, col) < 0 {
			return fmt.Errorf("mapped column %q not found in file", col)
		}
	}
	return nil
}

// PrepareItems turns table rows into classification items. Rows with a blank
// product name are dropped; every other mapped or unmapped column travels
// along as auxiliary text.
func PrepareItems(t *Table, m Mapping) ([]types.Item, error) {
	if err := m.Validate(t); err != nil {
		return nil, err
	}
	nameIdx := columnIndex(t, m[RoleProductName])

	mappedCols := make(map[int]string) // column index -> role
	for _, role := range Roles {
		if role == RoleProductName {
			continue
		}
		if col := m[role]; col != "" {
			if idx := columnIndex(t, col); idx >= 0 {
				mappedCols[idx] = role
			}
		}
	}

	items := make([]types.Item, 0, len(t.Rows))
	for rowIdx, row := range t.Rows {
		name := strings.TrimSpace(row[nameIdx])
		if name == "" {
			continue
		}
		item := types.Item{RowIndex: rowIdx, ProductName: name, Extra: map[string]string{}}
		for colIdx, cell := range row {
			if colIdx == nameIdx {
				continue
			}
			value := strings.TrimSpace(cell)
			if value == "" || isNullish(value) {
				continue
			}
			if role, ok := mappedCols[colIdx]; ok {
				item.Extra[role] = value
			} else {
				item.Extra[NormalizeKey(t.Columns[colIdx])] = value
			}
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}

// NormalizeKey turns an arbitrary column header into a stable auxiliary key.
func NormalizeKey(col string) string {
	key := strings.ToLower(strings.TrimSpace(col))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return key
}

func validRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

func columnIndex(t *Table, name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func isNullish(v string) bool {
	switch strings.ToLower(v) {
	case "nan", "none", "null":
		return true
	}
	return false
}
