package database

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type Database struct {
	conn *sql.DB
}

func New(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &Database{conn: db}, nil
}

func (d *Database) Conn() *sql.DB {
	return d.conn
}

func (d *Database) Close() error {
	return d.conn.Close()
}

func (d *Database) Ping() error {
	return d.conn.Ping()
}

func (d *Database) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS security_events (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id TEXT,
		ip_address TEXT NOT NULL,
		user_agent TEXT,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
		description TEXT NOT NULL DEFAULT '',
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS ip_bans (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		ip_address TEXT NOT NULL,
		reason TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'medium',
		ban_type TEXT NOT NULL CHECK (ban_type IN ('manual', 'automatic')),
		is_active BOOLEAN NOT NULL DEFAULT true,
		banned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ,
		banned_by TEXT,
		unbanned_at TIMESTAMPTZ,
		unban_reason TEXT
	);

	CREATE TABLE IF NOT EXISTS user_bans (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'medium',
		ban_type TEXT NOT NULL CHECK (ban_type IN ('manual', 'automatic')),
		is_active BOOLEAN NOT NULL DEFAULT true,
		banned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ,
		banned_by TEXT,
		unbanned_at TIMESTAMPTZ,
		unban_reason TEXT
	);

	CREATE TABLE IF NOT EXISTS daily_usage (
		user_id TEXT NOT NULL,
		usage_type TEXT NOT NULL,
		usage_date DATE NOT NULL,
		used_count INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, usage_type, usage_date)
	);

	-- At most one active ban per subject; concurrent auto-ban inserts race
	-- on this index instead of creating duplicates.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ip_bans_one_active ON ip_bans (ip_address) WHERE is_active;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_user_bans_one_active ON user_bans (user_id) WHERE is_active;

	CREATE INDEX IF NOT EXISTS idx_security_events_ip ON security_events (ip_address, created_at);
	CREATE INDEX IF NOT EXISTS idx_security_events_user ON security_events (user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events (event_type, created_at);
	CREATE INDEX IF NOT EXISTS idx_ip_bans_expiry ON ip_bans (expires_at) WHERE is_active;
	CREATE INDEX IF NOT EXISTS idx_user_bans_expiry ON user_bans (expires_at) WHERE is_active;

	CREATE OR REPLACE FUNCTION check_and_increment_usage(
		p_user_id TEXT,
		p_usage_type TEXT,
		p_usage_date DATE,
		p_limit INT
	) RETURNS TABLE(allowed BOOLEAN, new_count INT) AS $$
	DECLARE
		v_count INT;
	BEGIN
		INSERT INTO daily_usage (user_id, usage_type, usage_date, used_count)
		VALUES (p_user_id, p_usage_type, p_usage_date, 0)
		ON CONFLICT (user_id, usage_type, usage_date) DO NOTHING;

		SELECT du.used_count INTO v_count FROM daily_usage du
		WHERE du.user_id = p_user_id AND du.usage_type = p_usage_type AND du.usage_date = p_usage_date
		FOR UPDATE;

		IF v_count >= p_limit THEN
			RETURN QUERY SELECT false, v_count;
			RETURN;
		END IF;

		UPDATE daily_usage du SET used_count = du.used_count + 1, updated_at = now()
		WHERE du.user_id = p_user_id AND du.usage_type = p_usage_type AND du.usage_date = p_usage_date
		RETURNING du.used_count INTO v_count;

		RETURN QUERY SELECT true, v_count;
	END;
	$$ LANGUAGE plpgsql;

	CREATE OR REPLACE FUNCTION rollback_usage(
		p_user_id TEXT,
		p_usage_type TEXT,
		p_usage_date DATE
	) RETURNS INT AS $$
	DECLARE
		v_count INT;
	BEGIN
		UPDATE daily_usage du SET used_count = GREATEST(du.used_count - 1, 0), updated_at = now()
		WHERE du.user_id = p_user_id AND du.usage_type = p_usage_type AND du.usage_date = p_usage_date
		RETURNING du.used_count INTO v_count;
		RETURN COALESCE(v_count, 0);
	END;
	$$ LANGUAGE plpgsql;

	CREATE OR REPLACE FUNCTION abuse_statistics()
	RETURNS TABLE(
		active_ip_bans INT,
		active_user_bans INT,
		events_last_hour INT,
		events_last_24h INT,
		rate_limit_events INT
	) AS $$
	BEGIN
		RETURN QUERY SELECT
			(SELECT COUNT(*)::INT FROM ip_bans WHERE is_active AND (expires_at IS NULL OR expires_at > now())),
			(SELECT COUNT(*)::INT FROM user_bans WHERE is_active AND (expires_at IS NULL OR expires_at > now())),
			(SELECT COUNT(*)::INT FROM security_events WHERE created_at > now() - INTERVAL '1 hour'),
			(SELECT COUNT(*)::INT FROM security_events WHERE created_at > now() - INTERVAL '24 hours'),
			(SELECT COUNT(*)::INT FROM security_events WHERE event_type = 'rate_limit_exceeded' AND created_at > now() - INTERVAL '24 hours');
	END;
	$$ LANGUAGE plpgsql;
	`
	_, err := d.conn.Exec(schema)
	return err
}
