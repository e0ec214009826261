package access

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
)

const passphraseAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"

const passphraseLength = 20

// GenerateAnonymousAccess issues a fresh reviewer link for a project
// under review. The returned passphrase is shown once; only its hash
// is stored. Re-generating replaces the previous link, which stops
// working immediately.
func (s *Service) GenerateAnonymousAccess(owner model.Owner) (urlToken, passphrase string, err error) {
	passphrase, err = randomPassphrase()
	if err != nil {
		return "", "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	urlToken = strings.ReplaceAll(uuid.NewString(), "-", "")

	err = s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Unscoped().
			Where("owner_kind = ? AND owner_id = ?", owner.OwnerKind, owner.OwnerID).
			Delete(&model.AnonymousAccess{}).Error
		if err != nil {
			return err
		}
		row := model.AnonymousAccess{
			Owner:            owner,
			URLToken:         urlToken,
			PassphraseHash:   string(hash),
			CreationDatetime: time.Now(),
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return "", "", err
	}
	return urlToken, passphrase, nil
}

// CheckAnonymousPassphrase validates a reviewer link. Expiry is a
// fixed window from generation, regardless of use.
func (s *Service) CheckAnonymousPassphrase(urlToken, passphrase string) (*model.AnonymousAccess, error) {
	var row model.AnonymousAccess
	err := s.db.Where("url_token = ?", urlToken).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, deny("unknown reviewer link")
	}
	if err != nil {
		return nil, err
	}
	if time.Since(row.CreationDatetime) > s.anonymousTTL {
		return nil, deny("this reviewer link has expired")
	}
	if bcrypt.CompareHashAndPassword([]byte(row.PassphraseHash), []byte(passphrase)) != nil {
		return nil, deny("incorrect passphrase")
	}
	return &row, nil
}

func randomPassphrase() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(passphraseAlphabet)))
	for i := 0; i < passphraseLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(passphraseAlphabet[n.Int64()])
	}
	return b.String(), nil
}
