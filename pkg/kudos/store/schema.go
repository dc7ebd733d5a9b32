package store

// schema is the DDL executed on every startup (idempotent via
// IF NOT EXISTS). Status-like columns reference dictionaries(id); the
// stable string codes live only in the dictionaries table and are
// resolved through the dictionary cache.
const schema = `
-- ═══════════════════════════════════════════════════════════════════
-- DICTIONARIES
-- ═══════════════════════════════════════════════════════════════════

CREATE TABLE IF NOT EXISTS dictionaries (
    id         UUID PRIMARY KEY,
    kind       TEXT NOT NULL,
    code       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE (kind, code)
);

-- ═══════════════════════════════════════════════════════════════════
-- IDENTITY
-- ═══════════════════════════════════════════════════════════════════

CREATE TABLE IF NOT EXISTS users (
    id             UUID PRIMARY KEY,
    email          TEXT NOT NULL UNIQUE,
    username       TEXT UNIQUE,
    password_hash  TEXT NOT NULL,
    user_type_id   UUID NOT NULL REFERENCES dictionaries(id),
    is_verified    BOOLEAN NOT NULL DEFAULT FALSE,
    is_active      BOOLEAN NOT NULL DEFAULT FALSE,
    notes          TEXT,
    is_deleted     BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at     TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
    id            UUID PRIMARY KEY,  -- doubles as the wire jti
    user_id       UUID NOT NULL REFERENCES users(id),
    hashed_secret TEXT NOT NULL,
    expires_at    TIMESTAMPTZ NOT NULL,
    revoked_at    TIMESTAMPTZ,
    last_used_at  TIMESTAMPTZ,
    user_agent    TEXT,
    ip            TEXT,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id);

-- ═══════════════════════════════════════════════════════════════════
-- GROUPS, MEMBERSHIPS, TEAMS
-- ═══════════════════════════════════════════════════════════════════

CREATE TABLE IF NOT EXISTS groups (
    id              UUID PRIMARY KEY,
    name            TEXT NOT NULL,
    group_type_id   UUID REFERENCES dictionaries(id),
    parent_group_id UUID REFERENCES groups(id),
    created_by      UUID NOT NULL REFERENCES users(id),
    notes           TEXT,
    is_deleted      BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at      TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);

-- Exactly one settings row per group; created and deleted with the group.
CREATE TABLE IF NOT EXISTS group_settings (
    id                   UUID PRIMARY KEY,
    group_id             UUID NOT NULL UNIQUE REFERENCES groups(id),
    bonus_type_id        UUID REFERENCES dictionaries(id),
    currency_name        TEXT NOT NULL DEFAULT 'points',
    allow_decimal_bonus  BOOLEAN NOT NULL DEFAULT FALSE,
    max_debt_allowed     NUMERIC(18,4),
    allow_task_proposals BOOLEAN NOT NULL DEFAULT TRUE,
    require_task_review  BOOLEAN NOT NULL DEFAULT TRUE,
    enable_feed          BOOLEAN NOT NULL DEFAULT TRUE,
    notify_on_task       BOOLEAN NOT NULL DEFAULT TRUE,
    visibility           TEXT NOT NULL DEFAULT 'private',
    created_at           TIMESTAMPTZ NOT NULL,
    updated_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS group_memberships (
    id         UUID PRIMARY KEY,
    group_id   UUID NOT NULL REFERENCES groups(id),
    user_id    UUID NOT NULL REFERENCES users(id),
    role_id    UUID NOT NULL REFERENCES dictionaries(id),
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    status_id  UUID REFERENCES dictionaries(id),
    joined_at  TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE (group_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_memberships_user ON group_memberships(user_id);

CREATE TABLE IF NOT EXISTS group_invitations (
    id             UUID PRIMARY KEY,
    group_id       UUID NOT NULL REFERENCES groups(id),
    invited_by     UUID NOT NULL REFERENCES users(id),
    role_id        UUID NOT NULL REFERENCES dictionaries(id),
    invitee_email  TEXT,
    invitee_user_id UUID REFERENCES users(id),
    code           TEXT NOT NULL UNIQUE,
    status_id      UUID NOT NULL REFERENCES dictionaries(id),
    expires_at     TIMESTAMPTZ NOT NULL,
    max_uses       INTEGER NOT NULL DEFAULT 1,
    current_uses   INTEGER NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invitations_group ON group_invitations(group_id);
CREATE INDEX IF NOT EXISTS idx_invitations_status ON group_invitations(status_id);

CREATE TABLE IF NOT EXISTS teams (
    id             UUID PRIMARY KEY,
    group_id       UUID NOT NULL REFERENCES groups(id),
    name           TEXT NOT NULL,
    leader_user_id UUID REFERENCES users(id),
    max_members    INTEGER,
    notes          TEXT,
    is_deleted     BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at     TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL,
    UNIQUE (group_id, name)
);

CREATE TABLE IF NOT EXISTS team_memberships (
    id         UUID PRIMARY KEY,
    team_id    UUID NOT NULL REFERENCES teams(id),
    user_id    UUID NOT NULL REFERENCES users(id),
    role_id    UUID REFERENCES dictionaries(id),
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE (team_id, user_id)
);

-- ═══════════════════════════════════════════════════════════════════
-- TASKS
-- ═══════════════════════════════════════════════════════════════════

CREATE TABLE IF NOT EXISTS tasks (
    id                        UUID PRIMARY KEY,
    group_id                  UUID NOT NULL REFERENCES groups(id),
    task_type_id              UUID NOT NULL REFERENCES dictionaries(id),
    created_by                UUID NOT NULL REFERENCES users(id),
    parent_task_id            UUID REFERENCES tasks(id),
    team_id                   UUID REFERENCES teams(id),
    title                     TEXT NOT NULL,
    description               TEXT,
    status_id                 UUID NOT NULL REFERENCES dictionaries(id),
    bonus_points              NUMERIC(18,4) NOT NULL DEFAULT 0,
    penalty_points            NUMERIC(18,4) NOT NULL DEFAULT 0,
    due_date                  TIMESTAMPTZ,
    is_recurring              BOOLEAN NOT NULL DEFAULT FALSE,
    recurring_interval        BIGINT,   -- seconds between occurrences
    max_occurrences           INTEGER,
    occurrence_count          INTEGER NOT NULL DEFAULT 0,
    is_mandatory              BOOLEAN NOT NULL DEFAULT FALSE,
    allow_multiple_assignees  BOOLEAN NOT NULL DEFAULT FALSE,
    first_completes_gets_bonus BOOLEAN NOT NULL DEFAULT FALSE,
    streak_task_id            UUID REFERENCES tasks(id),
    streak_threshold          INTEGER,
    streak_bonus_points       NUMERIC(18,4),
    notes                     TEXT,
    is_deleted                BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at                TIMESTAMPTZ,
    created_at                TIMESTAMPTZ NOT NULL,
    updated_at                TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_group ON tasks(group_id);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_date);

CREATE TABLE IF NOT EXISTS task_dependencies (
    id                   UUID PRIMARY KEY,
    dependent_task_id    UUID NOT NULL REFERENCES tasks(id),
    prerequisite_task_id UUID NOT NULL REFERENCES tasks(id),
    dependency_type      TEXT NOT NULL DEFAULT 'finish_to_start',
    created_at           TIMESTAMPTZ NOT NULL,
    updated_at           TIMESTAMPTZ NOT NULL,
    UNIQUE (dependent_task_id, prerequisite_task_id, dependency_type),
    CHECK (dependent_task_id <> prerequisite_task_id)
);

-- Exactly one of user_id / team_id (XOR enforced by CHECK).
CREATE TABLE IF NOT EXISTS task_assignments (
    id          UUID PRIMARY KEY,
    task_id     UUID NOT NULL REFERENCES tasks(id),
    user_id     UUID REFERENCES users(id),
    team_id     UUID REFERENCES teams(id),
    assigned_by UUID NOT NULL REFERENCES users(id),
    status_id   UUID REFERENCES dictionaries(id),
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    CHECK ((user_id IS NULL) <> (team_id IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_assignments_task ON task_assignments(task_id);

CREATE TABLE IF NOT EXISTS task_completions (
    id                      UUID PRIMARY KEY,
    task_id                 UUID NOT NULL REFERENCES tasks(id),
    user_id                 UUID REFERENCES users(id),
    team_id                 UUID REFERENCES teams(id),
    status_id               UUID NOT NULL REFERENCES dictionaries(id),
    started_at              TIMESTAMPTZ NOT NULL,
    submitted_for_review_at TIMESTAMPTZ,
    reviewed_at             TIMESTAMPTZ,
    reviewed_by             UUID REFERENCES users(id),
    completed_at            TIMESTAMPTZ,
    review_notes            TEXT,
    awarded_bonus           NUMERIC(18,4),
    applied_penalty         NUMERIC(18,4),
    attachments             JSONB NOT NULL DEFAULT '[]',
    created_at              TIMESTAMPTZ NOT NULL,
    updated_at              TIMESTAMPTZ NOT NULL,
    CHECK ((user_id IS NULL) <> (team_id IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_completions_task ON task_completions(task_id);
CREATE INDEX IF NOT EXISTS idx_completions_user ON task_completions(user_id);

CREATE TABLE IF NOT EXISTS task_reviews (
    id         UUID PRIMARY KEY,
    task_id    UUID NOT NULL REFERENCES tasks(id),
    user_id    UUID NOT NULL REFERENCES users(id),
    rating     INTEGER CHECK (rating BETWEEN 1 AND 5),
    comment    TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE (task_id, user_id)
);

-- ═══════════════════════════════════════════════════════════════════
-- LEDGER
-- ═══════════════════════════════════════════════════════════════════

CREATE TABLE IF NOT EXISTS accounts (
    id            UUID PRIMARY KEY,
    group_id      UUID NOT NULL REFERENCES groups(id),
    user_id       UUID NOT NULL REFERENCES users(id),
    bonus_type_id UUID REFERENCES dictionaries(id),
    balance       NUMERIC(18,4) NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    UNIQUE (group_id, user_id, bonus_type_id)
);

-- Append-only: rows are never updated or deleted.
CREATE TABLE IF NOT EXISTS transactions (
    id                 UUID PRIMARY KEY,
    account_id         UUID NOT NULL REFERENCES accounts(id),
    amount             NUMERIC(18,4) NOT NULL,
    transaction_type_id UUID NOT NULL REFERENCES dictionaries(id),
    source_entity_type TEXT,
    source_entity_id   UUID,
    description        TEXT,
    created_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);

CREATE TABLE IF NOT EXISTS bonus_adjustments (
    id             UUID PRIMARY KEY,
    account_id     UUID NOT NULL REFERENCES accounts(id),
    transaction_id UUID NOT NULL REFERENCES transactions(id),
    adjusted_by    UUID NOT NULL REFERENCES users(id),
    amount         NUMERIC(18,4) NOT NULL,
    reason         TEXT,
    created_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rewards (
    id         UUID PRIMARY KEY,
    group_id   UUID NOT NULL REFERENCES groups(id),
    name       TEXT NOT NULL,
    cost       NUMERIC(18,4) NOT NULL,
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    notes      TEXT,
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

-- ═══════════════════════════════════════════════════════════════════
-- GAMIFICATION
-- ═══════════════════════════════════════════════════════════════════

CREATE TABLE IF NOT EXISTS levels (
    id         UUID PRIMARY KEY,
    group_id   UUID NOT NULL REFERENCES groups(id),
    number     INTEGER NOT NULL,
    name       TEXT NOT NULL,
    threshold  NUMERIC(18,4) NOT NULL,
    score_type TEXT NOT NULL DEFAULT 'lifetime_bonus',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE (group_id, number)
);

CREATE TABLE IF NOT EXISTS user_levels (
    id         UUID PRIMARY KEY,
    user_id    UUID NOT NULL REFERENCES users(id),
    group_id   UUID NOT NULL REFERENCES groups(id),
    level_id   UUID NOT NULL REFERENCES levels(id),
    is_current BOOLEAN NOT NULL DEFAULT TRUE,
    reached_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_user_levels_current ON user_levels(user_id, group_id) WHERE is_current;

CREATE TABLE IF NOT EXISTS badges (
    id                  UUID PRIMARY KEY,
    group_id            UUID REFERENCES groups(id),  -- NULL = global badge
    name                TEXT NOT NULL,
    condition_type_code TEXT NOT NULL,
    condition_details   JSONB NOT NULL DEFAULT '{}',
    is_repeatable       BOOLEAN NOT NULL DEFAULT FALSE,
    is_enabled          BOOLEAN NOT NULL DEFAULT TRUE,
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS achievements (
    id         UUID PRIMARY KEY,
    user_id    UUID NOT NULL REFERENCES users(id),
    badge_id   UUID NOT NULL REFERENCES badges(id),
    group_id   UUID REFERENCES groups(id),
    awarded_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_achievements_user_badge ON achievements(user_id, badge_id);

-- Append-only dated snapshots.
CREATE TABLE IF NOT EXISTS ratings (
    id               UUID PRIMARY KEY,
    user_id          UUID NOT NULL REFERENCES users(id),
    group_id         UUID NOT NULL REFERENCES groups(id),
    rating_type_code TEXT NOT NULL,
    score            NUMERIC(18,4) NOT NULL,
    snapshot_date    DATE NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, group_id, rating_type_code, snapshot_date)
);

-- ═══════════════════════════════════════════════════════════════════
-- NOTIFICATIONS
-- ═══════════════════════════════════════════════════════════════════

CREATE TABLE IF NOT EXISTS notifications (
    id                 UUID PRIMARY KEY,
    user_id            UUID NOT NULL REFERENCES users(id),
    group_id           UUID REFERENCES groups(id),
    type_code          TEXT NOT NULL,
    source_entity_type TEXT,
    source_entity_id   UUID,
    payload            JSONB NOT NULL DEFAULT '{}',
    is_read            BOOLEAN NOT NULL DEFAULT FALSE,
    created_at         TIMESTAMPTZ NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read);

CREATE TABLE IF NOT EXISTS notification_deliveries (
    id              UUID PRIMARY KEY,
    notification_id UUID NOT NULL REFERENCES notifications(id),
    channel_id      UUID NOT NULL REFERENCES dictionaries(id),
    status          TEXT NOT NULL DEFAULT 'pending',
    attempts        INTEGER NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMPTZ,
    provider_receipt TEXT,
    last_error      TEXT,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_status ON notification_deliveries(status);

CREATE TABLE IF NOT EXISTS notification_templates (
    id         UUID PRIMARY KEY,
    type_code  TEXT NOT NULL,
    channel_id UUID NOT NULL REFERENCES dictionaries(id),
    language   TEXT NOT NULL,
    group_id   UUID REFERENCES groups(id),
    subject    TEXT,
    body       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_templates_key
    ON notification_templates(type_code, channel_id, language, COALESCE(group_id, '00000000-0000-0000-0000-000000000000'::uuid));

-- ═══════════════════════════════════════════════════════════════════
-- REPORTS
-- ═══════════════════════════════════════════════════════════════════

CREATE TABLE IF NOT EXISTS report_requests (
    id           UUID PRIMARY KEY,
    requested_by UUID NOT NULL REFERENCES users(id),
    group_id     UUID REFERENCES groups(id),
    report_code  TEXT NOT NULL,
    parameters   JSONB NOT NULL DEFAULT '{}',
    status       TEXT NOT NULL DEFAULT 'queued',
    generated_at TIMESTAMPTZ,
    file_id      TEXT,
    last_error   TEXT,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_status ON report_requests(status);

-- ═══════════════════════════════════════════════════════════════════
-- SCHEDULER
-- ═══════════════════════════════════════════════════════════════════

CREATE TABLE IF NOT EXISTS cron_tasks (
    id               UUID PRIMARY KEY,
    name             TEXT NOT NULL UNIQUE,
    cron_expression  TEXT,
    interval_seconds BIGINT,
    run_once_at      TIMESTAMPTZ,
    last_run_at      TIMESTAMPTZ,
    next_run_at      TIMESTAMPTZ,
    last_status      TEXT,
    last_log         TEXT,
    enabled          BOOLEAN NOT NULL DEFAULT TRUE,
    is_deleted       BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at       TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);

-- Used one-time tokens (TTL rows swept by the cleanup job).
CREATE TABLE IF NOT EXISTS used_one_time_tokens (
    token_id   TEXT PRIMARY KEY,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
`
