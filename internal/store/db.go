package store

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func Init(path string) (*gorm.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&RelayRecord{}, &PeerSnapshot{}); err != nil {
		return nil, err
	}
	return db, nil
}

func SaveRelayRecord(db *gorm.DB, rec *RelayRecord) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(rec).Error
}

func RecentRelayRecords(db *gorm.DB, limit int) ([]RelayRecord, error) {
	var recs []RelayRecord
	result := db.Order("relay_number desc").Limit(limit).Find(&recs)
	return recs, result.Error
}

func UpsertPeerSnapshot(db *gorm.DB, snap PeerSnapshot) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&snap).Error
}

func ActivePeerSnapshots(db *gorm.DB) ([]PeerSnapshot, error) {
	var snaps []PeerSnapshot
	result := db.Where("active = ?", true).Find(&snaps)
	return snaps, result.Error
}
