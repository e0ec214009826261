package submission

import (
	"sort"

	"golang.org/x/mod/semver"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
)

// CompareVersions orders version strings by semantic-version rules.
// Stored versions lack the "v" prefix the semver package expects, and
// may be loose ("1.0"); invalid strings fall back to plain string
// order so the sort is still total.
func CompareVersions(a, b string) int {
	va, vb := "v"+a, "v"+b
	if semver.IsValid(va) && semver.IsValid(vb) {
		return semver.Compare(va, vb)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SetVersionOrder recomputes the rank of every published version of a
// core project. Versions sort semantically, version_order runs 0..N-1,
// and exactly the maximum carries is_latest_version.
func SetVersionOrder(tx *gorm.DB, coreProjectID uint) error {
	var versions []model.PublishedProject
	if err := tx.Where("core_project_id = ?", coreProjectID).Find(&versions).Error; err != nil {
		return err
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return CompareVersions(versions[i].Version, versions[j].Version) < 0
	})
	for i := range versions {
		err := tx.Model(&versions[i]).Updates(map[string]any{
			"version_order":     i,
			"is_latest_version": i == len(versions)-1,
		}).Error
		if err != nil {
			return err
		}
	}
	return nil
}
