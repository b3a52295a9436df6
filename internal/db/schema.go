package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- PIPELINE RUN TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS pipeline_run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS status ON pipeline_run TYPE string DEFAULT "running";
    DEFINE FIELD IF NOT EXISTS trigger_source ON pipeline_run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS started_at ON pipeline_run TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS finished_at ON pipeline_run TYPE option<datetime>;

    -- ==========================================================================
    -- ORIGIN TABLE
    -- ==========================================================================
    -- Knowledge-unit origins: graph entities and communities. Immutable.
    DEFINE TABLE IF NOT EXISTS origin SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS pipeline_run_id ON origin TYPE string;
    DEFINE FIELD IF NOT EXISTS origin_type ON origin TYPE string ASSERT $value IN ["entity", "community"];
    DEFINE FIELD IF NOT EXISTS title ON origin TYPE string;
    DEFINE FIELD IF NOT EXISTS level ON origin TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS parent_id ON origin TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS context ON origin TYPE option<string>;

    DEFINE INDEX IF NOT EXISTS origin_run ON origin FIELDS pipeline_run_id;

    -- ==========================================================================
    -- BATCH JOB TABLE
    -- ==========================================================================
    -- One job per (run, batch type). The unique index makes create-or-get an
    -- atomic insert-if-absent: the loser of a race gets an index violation.
    DEFINE TABLE IF NOT EXISTS batch_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS pipeline_run_id ON batch_job TYPE string;
    DEFINE FIELD IF NOT EXISTS batch_type ON batch_job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON batch_job TYPE string;
    DEFINE FIELD IF NOT EXISTS provider_batch_id ON batch_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS output_file_id ON batch_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error_file_id ON batch_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS last_error ON batch_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS attempts ON batch_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON batch_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON batch_job TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS batch_job_run_type ON batch_job FIELDS pipeline_run_id, batch_type UNIQUE;
    DEFINE INDEX IF NOT EXISTS batch_job_status ON batch_job FIELDS status;

    -- ==========================================================================
    -- COMPARISON GROUP TABLE
    -- ==========================================================================
    -- Membership is fixed at creation; members is an ordered array with one
    -- seed-flagged entry.
    DEFINE TABLE IF NOT EXISTS comparison_group SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS pipeline_run_id ON comparison_group TYPE string;
    DEFINE FIELD IF NOT EXISTS bloom_level ON comparison_group TYPE string;
    DEFINE FIELD IF NOT EXISTS coherence_level ON comparison_group TYPE string ASSERT $value IN ["sibling", "global"];
    DEFINE FIELD IF NOT EXISTS members ON comparison_group TYPE array<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_at ON comparison_group TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS comparison_group_run ON comparison_group FIELDS pipeline_run_id;

    -- ==========================================================================
    -- GENERATED UNIT TABLE (raw output of the generation batch)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS generated_unit SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS pipeline_run_id ON generated_unit TYPE string;
    DEFINE FIELD IF NOT EXISTS origin_id ON generated_unit TYPE string;
    DEFINE FIELD IF NOT EXISTS bloom_level ON generated_unit TYPE string;
    DEFINE FIELD IF NOT EXISTS uc_text ON generated_unit TYPE string;

    DEFINE INDEX IF NOT EXISTS generated_unit_run ON generated_unit FIELDS pipeline_run_id;
    DEFINE INDEX IF NOT EXISTS generated_unit_origin ON generated_unit FIELDS origin_id;

    -- ==========================================================================
    -- DIFFICULTY SCORE TABLE (one row per (unit, group) judgment)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS difficulty_score SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS pipeline_run_id ON difficulty_score TYPE string;
    DEFINE FIELD IF NOT EXISTS comparison_group_id ON difficulty_score TYPE string;
    DEFINE FIELD IF NOT EXISTS knowledge_unit_id ON difficulty_score TYPE string;
    DEFINE FIELD IF NOT EXISTS difficulty_score ON difficulty_score TYPE int ASSERT $value >= 0 AND $value <= 100;
    DEFINE FIELD IF NOT EXISTS justification ON difficulty_score TYPE string DEFAULT "";

    DEFINE INDEX IF NOT EXISTS difficulty_score_run ON difficulty_score FIELDS pipeline_run_id;
    DEFINE INDEX IF NOT EXISTS difficulty_score_unit ON difficulty_score FIELDS knowledge_unit_id;

    -- ==========================================================================
    -- FINAL UNIT TABLE (generated units joined with aggregated scores)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS final_unit SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS pipeline_run_id ON final_unit TYPE string;
    DEFINE FIELD IF NOT EXISTS origin_id ON final_unit TYPE string;
    DEFINE FIELD IF NOT EXISTS bloom_level ON final_unit TYPE string;
    DEFINE FIELD IF NOT EXISTS uc_text ON final_unit TYPE string;
    DEFINE FIELD IF NOT EXISTS difficulty_score ON final_unit TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS difficulty_justification ON final_unit TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS evaluation_count ON final_unit TYPE int DEFAULT 0;

    DEFINE INDEX IF NOT EXISTS final_unit_run ON final_unit FIELDS pipeline_run_id;

    -- ==========================================================================
    -- INGEST ERROR TABLE (per-line failures during result processing)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ingest_error SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS pipeline_run_id ON ingest_error TYPE string;
    DEFINE FIELD IF NOT EXISTS batch_type ON ingest_error TYPE string;
    DEFINE FIELD IF NOT EXISTS request_id ON ingest_error TYPE string;
    DEFINE FIELD IF NOT EXISTS line ON ingest_error TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS reason ON ingest_error TYPE string;

    DEFINE INDEX IF NOT EXISTS ingest_error_run ON ingest_error FIELDS pipeline_run_id;
`
