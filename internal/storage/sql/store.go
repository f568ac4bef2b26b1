// Package sql 基于 GORM + PostgreSQL 的存储实现。
package sql

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dbca-wa/prs-harvester/internal/domain"
	"github.com/dbca-wa/prs-harvester/internal/storage"
)

// Store PostgreSQL 数据库存储实现。
type Store struct {
	db *gorm.DB
}

// NewStore 创建数据库存储并执行自动迁移。
func NewStore(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*Store, error) {
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("obtain sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: gormDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate 自动迁移全部实体表。
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.HarvestedMessage{},
		&domain.HarvestedAttachment{},
		&domain.Referral{},
		&domain.RelatedReferral{},
		&domain.Task{},
		&domain.Location{},
		&domain.Record{},
		&domain.Region{},
		&domain.ReferralType{},
		&domain.DopTrigger{},
		&domain.LocalGovernment{},
		&domain.Agency{},
		&domain.Organisation{},
		&domain.TaskType{},
		&domain.User{},
		&domain.RegionAssignee{},
	)
}

// Health 实现 storage.Store。
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

// ========== HarvestRepository ==========

func (s *Store) SaveHarvestedMessage(m *domain.HarvestedMessage) (bool, error) {
	// ON CONFLICT DO NOTHING：同一 UID 重复写入是幂等空操作。
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email_uid"}},
		DoNothing: true,
	}).Create(m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetHarvestedMessageByUID(uid string) (*domain.HarvestedMessage, error) {
	var m domain.HarvestedMessage
	if err := s.db.Where("email_uid = ?", uid).First(&m).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &m, nil
}

func (s *Store) ListUnprocessedMessages() ([]domain.HarvestedMessage, error) {
	var out []domain.HarvestedMessage
	err := s.db.Where("processed = ?", false).Order("received asc").Find(&out).Error
	return out, err
}

func (s *Store) UpdateHarvestedMessage(m *domain.HarvestedMessage) error {
	res := s.db.Model(&domain.HarvestedMessage{}).Where("id = ?", m.ID).
		Updates(map[string]any{
			"referral_id": m.ReferralID,
			"processed":   m.Processed,
			"action_log":  m.ActionLog,
			"modifier_id": m.ModifierID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SaveAttachment(a *domain.HarvestedAttachment) error {
	return s.db.Create(a).Error
}

func (s *Store) ListAttachments(messageID string) ([]domain.HarvestedAttachment, error) {
	var out []domain.HarvestedAttachment
	err := s.db.Where("harvested_message_id = ?", messageID).Order("name asc").Find(&out).Error
	return out, err
}

func (s *Store) SetAttachmentRecord(attachmentID, recordID string) error {
	res := s.db.Model(&domain.HarvestedAttachment{}).Where("id = ?", attachmentID).
		Update("record_id", recordID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ========== ReferralRepository ==========

func (s *Store) GetReferralByReference(reference string) (*domain.Referral, error) {
	var r domain.Referral
	if err := s.db.Where("lower(reference) = lower(?)", reference).First(&r).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &r, nil
}

func (s *Store) CreateReferral(r *domain.Referral) error {
	return s.db.Omit("Regions", "DopTriggers").Create(r).Error
}

func (s *Store) AttachRegion(referralID, regionID string) error {
	ref := domain.Referral{Audit: domain.Audit{ID: referralID}}
	return s.db.Model(&ref).Association("Regions").
		Append(&domain.Region{Audit: domain.Audit{ID: regionID}})
}

func (s *Store) AttachTrigger(referralID, triggerID string) error {
	ref := domain.Referral{Audit: domain.Audit{ID: referralID}}
	return s.db.Model(&ref).Association("DopTriggers").
		Append(&domain.DopTrigger{Audit: domain.Audit{ID: triggerID}})
}

func (s *Store) CountTriggers(referralID string) (int, error) {
	var n int64
	err := s.db.Table("referral_dop_triggers").
		Where("referral_id = ?", referralID).Count(&n).Error
	return int(n), err
}

func (s *Store) RelateReferrals(aID, bID string) error {
	if aID == bID {
		// 自关联静默拒绝。
		return nil
	}
	links := []domain.RelatedReferral{
		{FromReferralID: aID, ToReferralID: bID},
		{FromReferralID: bID, ToReferralID: aID},
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
}

func (s *Store) ListRelatedReferralIDs(referralID string) ([]string, error) {
	var out []string
	err := s.db.Model(&domain.RelatedReferral{}).
		Where("from_referral_id = ?", referralID).
		Order("to_referral_id asc").
		Pluck("to_referral_id", &out).Error
	return out, err
}

func (s *Store) CreateTask(t *domain.Task) error {
	return s.db.Create(t).Error
}

func (s *Store) CreateRecord(r *domain.Record) error {
	return s.db.Create(r).Error
}

func (s *Store) CreateLocation(l *domain.Location) error {
	return s.db.Create(l).Error
}

func (s *Store) ListLocationsWithPoly(excludeReferralID string) ([]domain.Location, error) {
	var rows []domain.Location
	err := s.db.Where("referral_id <> ?", excludeReferralID).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	// 几何以 JSON 序列化存储，空几何在这里过滤而不是下推给数据库。
	out := rows[:0]
	for _, l := range rows {
		if l.HasPoly() {
			out = append(out, l)
		}
	}
	return out, nil
}

// ========== CatalogRepository ==========

func (s *Store) SaveRegion(r *domain.Region) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(r).Error
}

func (s *Store) ListRegions() ([]domain.Region, error) {
	var out []domain.Region
	err := s.db.Order("name asc").Find(&out).Error
	return out, err
}

func (s *Store) GetRegionByName(name string) (*domain.Region, error) {
	var r domain.Region
	if err := s.db.Where("lower(name) = lower(?)", name).First(&r).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &r, nil
}

func (s *Store) SaveReferralType(t *domain.ReferralType) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(t).Error
}

func (s *Store) GetReferralTypeByPrefix(code string) (*domain.ReferralType, error) {
	var t domain.ReferralType
	err := s.db.Where("lower(name) LIKE lower(?) || '%'", code).Order("name asc").First(&t).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &t, nil
}

func (s *Store) SaveDopTrigger(t *domain.DopTrigger) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(t).Error
}

func (s *Store) GetDopTriggerByName(name string) (*domain.DopTrigger, error) {
	var t domain.DopTrigger
	if err := s.db.Where("lower(name) = lower(?)", name).First(&t).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &t, nil
}

func (s *Store) GetDopTriggerByPrefix(token string) (*domain.DopTrigger, error) {
	var t domain.DopTrigger
	err := s.db.Where("lower(name) LIKE lower(?) || '%'", token).Order("name asc").First(&t).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &t, nil
}

func (s *Store) SaveLocalGovernment(l *domain.LocalGovernment) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(l).Error
}

func (s *Store) GetLocalGovernmentByName(name string) (*domain.LocalGovernment, error) {
	var l domain.LocalGovernment
	if err := s.db.Where("lower(name) = lower(?)", name).First(&l).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &l, nil
}

func (s *Store) SaveAgency(a *domain.Agency) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoNothing: true,
	}).Create(a).Error
}

func (s *Store) GetAgencyBySlug(slug string) (*domain.Agency, error) {
	var a domain.Agency
	if err := s.db.Where("slug = ?", slug).First(&a).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &a, nil
}

func (s *Store) SaveOrganisation(o *domain.Organisation) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(o).Error
}

func (s *Store) GetOrganisationByName(name string) (*domain.Organisation, error) {
	var o domain.Organisation
	if err := s.db.Where("lower(name) = lower(?)", name).First(&o).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &o, nil
}

func (s *Store) SaveTaskType(t *domain.TaskType) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(t).Error
}

func (s *Store) GetTaskTypeByName(name string) (*domain.TaskType, error) {
	var t domain.TaskType
	if err := s.db.Where("lower(name) = lower(?)", name).First(&t).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &t, nil
}

func (s *Store) SaveUser(u *domain.User) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoNothing: true,
	}).Create(u).Error
}

func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	var u domain.User
	if err := s.db.Where("lower(username) = lower(?)", username).First(&u).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &u, nil
}

func (s *Store) SaveRegionAssignee(ra *domain.RegionAssignee) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "region_id"}},
		UpdateAll: true,
	}).Create(ra).Error
}

func (s *Store) GetRegionAssignee(regionID string) (*domain.User, error) {
	var u domain.User
	err := s.db.Model(&domain.User{}).
		Joins("JOIN region_assignees ra ON ra.user_id = users.id").
		Where("ra.region_id = ?", regionID).
		First(&u).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &u, nil
}
