package query

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
)

// allModels lists every table in migration order.
func allModels() []any {
	return []any{
		&model.User{},
		&model.TrainingType{},
		&model.TrainingRecord{},
		&model.CoreProject{},
		&model.StorageRequest{},
		&model.License{},
		&model.DUA{},
		&model.ActiveProject{},
		&model.ArchivedProject{},
		&model.PublishedProject{},
		&model.IntegrityError{},
		&model.InternalNote{},
		&model.Author{},
		&model.Affiliation{},
		&model.PublishedAuthor{},
		&model.PublishedAffiliation{},
		&model.AuthorInvitation{},
		&model.Contact{},
		&model.Reference{},
		&model.Publication{},
		&model.Topic{},
		&model.PublishedTopic{},
		&model.ProjectTopic{},
		&model.ProgrammingLanguage{},
		&model.ProjectLanguage{},
		&model.ParentProject{},
		&model.RequiredTraining{},
		&model.UploadedDocument{},
		&model.EditLog{},
		&model.CopyeditLog{},
		&model.DUASignature{},
		&model.DataAccessRequest{},
		&model.DataAccessRequestReviewer{},
		&model.AnonymousAccess{},
		&model.Task{},
		&model.CronJobRecord{},
		&model.CronJobConfig{},
	}
}

// Migrate applies schema migrations. The initial migration creates all
// tables; later schema changes append entries with their own rollback.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "20260101000000",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(allModels()...)
			},
			Rollback: func(tx *gorm.DB) error {
				for _, m := range allModels() {
					if err := tx.Migrator().DropTable(m); err != nil {
						return err
					}
				}
				return nil
			},
		},
	})
	m.InitSchema(func(tx *gorm.DB) error {
		return tx.AutoMigrate(allModels()...)
	})
	return m.Migrate()
}
