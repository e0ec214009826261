package submission

import (
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
)

// ownedModels lists every table carrying an owner pair, in the order
// re-parenting updates them.
var ownedModels = []any{
	&model.Author{},
	&model.Reference{},
	&model.Publication{},
	&model.Topic{},
	&model.ProjectLanguage{},
	&model.ParentProject{},
	&model.RequiredTraining{},
	&model.UploadedDocument{},
	&model.EditLog{},
	&model.CopyeditLog{},
	&model.AnonymousAccess{},
}

// reparentAll points every owned row of one lifecycle entity at
// another. A bulk update of the (kind, id) pair; rows are never copied
// or dropped along the way.
func reparentAll(tx *gorm.DB, from model.Owner, to model.Owner) error {
	for _, m := range ownedModels {
		err := tx.Model(m).
			Where("owner_kind = ? AND owner_id = ?", from.OwnerKind, from.OwnerID).
			Updates(map[string]any{
				"owner_kind": to.OwnerKind,
				"owner_id":   to.OwnerID,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// reparentLogs moves only the audit trail (edit and copyedit logs) and
// uploaded documents, the rows publish re-parents rather than copies.
func reparentLogs(tx *gorm.DB, from model.Owner, to model.Owner) error {
	for _, m := range []any{&model.EditLog{}, &model.CopyeditLog{}, &model.UploadedDocument{}} {
		err := tx.Model(m).
			Where("owner_kind = ? AND owner_id = ?", from.OwnerKind, from.OwnerID).
			Updates(map[string]any{
				"owner_kind": to.OwnerKind,
				"owner_id":   to.OwnerID,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// deleteOwned removes the owned rows that remain attached to a
// lifecycle entity about to be deleted.
func deleteOwned(tx *gorm.DB, owner model.Owner) error {
	for _, m := range ownedModels {
		err := tx.Unscoped().
			Where("owner_kind = ? AND owner_id = ?", owner.OwnerKind, owner.OwnerID).
			Delete(m).Error
		if err != nil {
			return err
		}
	}
	return nil
}
