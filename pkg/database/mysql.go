package database

import (
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/crmkit/broadcast-service/environments"
	"github.com/crmkit/broadcast-service/pkg/logger"
)

func NewMySQLDB(cfg environments.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
	)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Infof("Connected to MySQL database")
	return db, nil
}

func RunMigrations(db *sqlx.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS time_windows (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			days JSON NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS campaigns (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'draft',
			message TEXT NOT NULL,
			time_window_id BIGINT,
			min_delay_seconds INT NOT NULL DEFAULT 0,
			max_delay_seconds INT NOT NULL DEFAULT 0,
			sent_count BIGINT NOT NULL DEFAULT 0,
			failed_count BIGINT NOT NULL DEFAULT 0,
			total_recipients BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			completed_at DATETIME,
			deleted_at DATETIME,
			INDEX idx_campaigns_status (status),
			CONSTRAINT fk_campaigns_time_window FOREIGN KEY (time_window_id) REFERENCES time_windows(id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS queue_items (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			campaign_id BIGINT NOT NULL,
			recipient_address VARCHAR(100) NOT NULL,
			fields JSON,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			scheduled_for DATETIME,
			claim_token VARCHAR(36),
			sent_at DATETIME,
			transport_message_id VARCHAR(100),
			error_message TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_queue_items_due (status, scheduled_for),
			INDEX idx_queue_items_campaign (campaign_id),
			INDEX idx_queue_items_claim (claim_token),
			CONSTRAINT fk_queue_items_campaign FOREIGN KEY (campaign_id) REFERENCES campaigns(id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,
	}

	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	logger.Infof("Database migrations completed")

	return nil
}

func SeedTestData(db *sqlx.DB) error {
	var count int

	if err := db.Get(&count, "SELECT COUNT(*) FROM time_windows"); err != nil {
		return err
	}

	if count > 0 {
		logger.Infof("Database already has %d time windows, skipping seed", count)
		return nil
	}

	// Business hours Mon-Fri 09:00-18:00, weekends off.
	businessDays := `[null,{"start":540,"end":1080},{"start":540,"end":1080},{"start":540,"end":1080},{"start":540,"end":1080},{"start":540,"end":1080},null]`
	// Late-night window that wraps past midnight on Fri/Sat.
	nightOwls := `[null,null,null,null,null,{"start":1320,"end":120},{"start":1320,"end":120}]`

	windows := []struct {
		name    string
		enabled bool
		days    string
	}{
		{"Business hours", true, businessDays},
		{"Night owls", true, nightOwls},
	}

	for _, w := range windows {
		_, err := db.Exec(
			"INSERT INTO time_windows (name, enabled, days) VALUES (?, ?, ?)",
			w.name, w.enabled, w.days,
		)
		if err != nil {
			return fmt.Errorf("failed to seed test data: %w", err)
		}
	}

	logger.Infof("Seeded %d time windows", len(windows))
	return nil
}
