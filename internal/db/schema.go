package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- JOB EVENT LOG
    -- ==========================================================================
    -- Append-only. One row per event; (job_id, seq) is unique so a replayed
    -- append can never fork a job's history.
    DEFINE TABLE IF NOT EXISTS job_event SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON job_event TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON job_event TYPE int;
    DEFINE FIELD IF NOT EXISTS type ON job_event TYPE string;
    DEFINE FIELD IF NOT EXISTS data ON job_event TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS timestamp ON job_event TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS job_event_job_seq ON job_event FIELDS job_id, seq UNIQUE;
    DEFINE INDEX IF NOT EXISTS job_event_job ON job_event FIELDS job_id;

    -- ==========================================================================
    -- EVAL RECORDS
    -- ==========================================================================
    -- One row per evaluated job. The unique job_id index plus UPSERT writes
    -- make retried evaluations overwrite instead of duplicate.
    DEFINE TABLE IF NOT EXISTS eval_record SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON eval_record TYPE string;
    DEFINE FIELD IF NOT EXISTS personalization ON eval_record TYPE int;
    DEFINE FIELD IF NOT EXISTS coherence ON eval_record TYPE int;
    DEFINE FIELD IF NOT EXISTS tone ON eval_record TYPE int;
    DEFINE FIELD IF NOT EXISTS safety ON eval_record TYPE int;
    DEFINE FIELD IF NOT EXISTS overall ON eval_record TYPE int;
    DEFINE FIELD IF NOT EXISTS safety_flag ON eval_record TYPE bool;
    DEFINE FIELD IF NOT EXISTS card_coverage ON eval_record TYPE float;
    DEFINE FIELD IF NOT EXISTS spine_valid ON eval_record TYPE bool;
    DEFINE FIELD IF NOT EXISTS hallucinated_card_count ON eval_record TYPE int;
    DEFINE FIELD IF NOT EXISTS eval_mode ON eval_record TYPE string;
    DEFINE FIELD IF NOT EXISTS prompt_version ON eval_record TYPE string;
    DEFINE FIELD IF NOT EXISTS variant ON eval_record TYPE string;
    DEFINE FIELD IF NOT EXISTS spread ON eval_record TYPE string;
    DEFINE FIELD IF NOT EXISTS provider ON eval_record TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON eval_record TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS eval_job ON eval_record FIELDS job_id UNIQUE;
    DEFINE INDEX IF NOT EXISTS eval_created ON eval_record FIELDS created_at;
    DEFINE INDEX IF NOT EXISTS eval_dims ON eval_record FIELDS prompt_version, variant, spread, provider;

    -- ==========================================================================
    -- ALERTS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS alert SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS type ON alert TYPE string;
    DEFINE FIELD IF NOT EXISTS severity ON alert TYPE string;
    DEFINE FIELD IF NOT EXISTS metric ON alert TYPE string;
    DEFINE FIELD IF NOT EXISTS delta ON alert TYPE float;
    DEFINE FIELD IF NOT EXISTS prompt_version ON alert TYPE string;
    DEFINE FIELD IF NOT EXISTS variant ON alert TYPE string;
    DEFINE FIELD IF NOT EXISTS spread ON alert TYPE string;
    DEFINE FIELD IF NOT EXISTS provider ON alert TYPE string;
    DEFINE FIELD IF NOT EXISTS message ON alert TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON alert TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS alert_created ON alert FIELDS created_at;

    -- ==========================================================================
    -- ARCHIVED READINGS
    -- ==========================================================================
    -- Terminal job snapshots migrated off the hot path by the archival
    -- scheduler. Keyed on job_id so re-running a period is idempotent.
    DEFINE TABLE IF NOT EXISTS archived_reading SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON archived_reading TYPE string;
    DEFINE FIELD IF NOT EXISTS state ON archived_reading TYPE string;
    DEFINE FIELD IF NOT EXISTS spread ON archived_reading TYPE string;
    DEFINE FIELD IF NOT EXISTS provider ON archived_reading TYPE string;
    DEFINE FIELD IF NOT EXISTS gate_outcome ON archived_reading TYPE string;
    DEFINE FIELD IF NOT EXISTS gate_reason ON archived_reading TYPE string;
    DEFINE FIELD IF NOT EXISTS text ON archived_reading TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON archived_reading TYPE datetime;
    DEFINE FIELD IF NOT EXISTS archived_at ON archived_reading TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS archived_job ON archived_reading FIELDS job_id UNIQUE;
    DEFINE INDEX IF NOT EXISTS archived_created ON archived_reading FIELDS created_at;

    -- ==========================================================================
    -- DAILY ROLLUPS
    -- ==========================================================================
    -- One aggregate row per dimensional group per day. The composite unique
    -- index is the idempotency key for archival re-runs.
    DEFINE TABLE IF NOT EXISTS daily_rollup SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS day ON daily_rollup TYPE string;
    DEFINE FIELD IF NOT EXISTS prompt_version ON daily_rollup TYPE string;
    DEFINE FIELD IF NOT EXISTS variant ON daily_rollup TYPE string;
    DEFINE FIELD IF NOT EXISTS spread ON daily_rollup TYPE string;
    DEFINE FIELD IF NOT EXISTS provider ON daily_rollup TYPE string;
    DEFINE FIELD IF NOT EXISTS samples ON daily_rollup TYPE int;
    DEFINE FIELD IF NOT EXISTS mean_overall ON daily_rollup TYPE float;
    DEFINE FIELD IF NOT EXISTS mean_tone ON daily_rollup TYPE float;
    DEFINE FIELD IF NOT EXISTS mean_coherence ON daily_rollup TYPE float;
    DEFINE FIELD IF NOT EXISTS mean_coverage ON daily_rollup TYPE float;
    DEFINE FIELD IF NOT EXISTS safety_flag_rate ON daily_rollup TYPE float;
    DEFINE FIELD IF NOT EXISTS low_tone_rate ON daily_rollup TYPE float;
    DEFINE FIELD IF NOT EXISTS created_at ON daily_rollup TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS rollup_key ON daily_rollup FIELDS day, prompt_version, variant, spread, provider UNIQUE;
`
