package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spigell/job-matcher/internal/matching"
)

//go:embed schema.sql
var schema string

// NewPostgresPool creates and verifies a pgxpool connection pool.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return pool, nil
}

// Postgres is the Store backed by PostgreSQL. Completion counting relies on
// the row lock taken by UPDATE job_scoring inside the committing transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the tables when they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

const jobColumns = `
	j.id, j.title, j.description, j.employment_type, j.experience, j.tags,
	j.location, j.active, j.created_at, c.id, c.name`

func scanJob(row pgx.Row) (matching.Job, error) {
	var j matching.Job
	err := row.Scan(
		&j.ID, &j.Title, &j.Description, &j.EmploymentType, &j.Experience, &j.Tags,
		&j.Location, &j.Active, &j.CreatedAt, &j.Company.ID, &j.Company.Name,
	)
	return j, err
}

func (p *Postgres) ActiveJobs(ctx context.Context) ([]matching.Job, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM jobs j JOIN companies c ON c.id = j.company_id
		 WHERE j.active
		 ORDER BY j.created_at DESC, j.id`)
	if err != nil {
		return nil, fmt.Errorf("activeJobs query: %w", err)
	}
	defer rows.Close()

	jobs := make([]matching.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("activeJobs scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (p *Postgres) Job(ctx context.Context, id string) (*matching.Job, error) {
	j, err := scanJob(p.pool.QueryRow(ctx,
		`SELECT `+jobColumns+`
		 FROM jobs j JOIN companies c ON c.id = j.company_id
		 WHERE j.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %q: %w", id, matching.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("job query: %w", err)
	}
	return &j, nil
}

func (p *Postgres) Candidate(ctx context.Context, id string) (*matching.CandidateProfile, error) {
	var c matching.CandidateProfile
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, experience, skills FROM candidates WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Experience, &c.Skills)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("candidate %q: %w", id, matching.ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("candidate query: %w", err)
	}
	return &c, nil
}

func (p *Postgres) Candidates(ctx context.Context) ([]matching.CandidateProfile, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, experience, skills FROM candidates ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("candidates query: %w", err)
	}
	defer rows.Close()

	out := make([]matching.CandidateProfile, 0)
	for rows.Next() {
		var c matching.CandidateProfile
		if err := rows.Scan(&c.ID, &c.Name, &c.Experience, &c.Skills); err != nil {
			return nil, fmt.Errorf("candidates scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) Resume(ctx context.Context, candidateID string) (*ResumeDocument, error) {
	doc := ResumeDocument{CandidateID: candidateID}
	err := p.pool.QueryRow(ctx,
		`SELECT content_type, data FROM resumes WHERE candidate_id = $1`, candidateID,
	).Scan(&doc.ContentType, &doc.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("candidate %q: %w", candidateID, ErrResumeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resume query: %w", err)
	}
	return &doc, nil
}

func (p *Postgres) Applications(ctx context.Context, jobID string) ([]matching.Application, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, job_id, candidate_id, state, score, COALESCE(failure_reason, '')
		 FROM applications WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("applications query: %w", err)
	}
	defer rows.Close()

	apps := make([]matching.Application, 0)
	for rows.Next() {
		var a matching.Application
		if err := rows.Scan(&a.ID, &a.JobID, &a.CandidateID, &a.State, &a.Score, &a.Failure); err != nil {
			return nil, fmt.Errorf("applications scan: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

const aggregateColumns = `job_id, total, scored, failed, status, completed_at`

func scanAggregate(row pgx.Row) (matching.JobAggregate, error) {
	var (
		agg    matching.JobAggregate
		status string
	)
	if err := row.Scan(&agg.JobID, &agg.Total, &agg.Scored, &agg.Failed, &status, &agg.CompletedAt); err != nil {
		return agg, err
	}
	parsed, err := matching.ParseAggregateStatus(status)
	if err != nil {
		return agg, err
	}
	agg.Status = parsed
	return agg, nil
}

func (p *Postgres) EnsureAggregate(ctx context.Context, jobID string) (matching.JobAggregate, error) {
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO job_scoring (job_id, status) VALUES ($1, 'PENDING')
		 ON CONFLICT (job_id) DO NOTHING`, jobID); err != nil {
		return matching.JobAggregate{}, fmt.Errorf("ensureAggregate insert: %w", err)
	}
	return p.Aggregate(ctx, jobID)
}

func (p *Postgres) BeginScoring(ctx context.Context, jobID string, total int) (matching.JobAggregate, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return matching.JobAggregate{}, fmt.Errorf("beginScoring tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Applications processed before the fan-out count from the start; they
	// are not enqueued again.
	var scored, failed int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE state IN ('COMMITTED', 'FAILED_TERMINAL')),
		        COUNT(*) FILTER (WHERE state = 'FAILED_TERMINAL')
		 FROM applications WHERE job_id = $1`, jobID).Scan(&scored, &failed); err != nil {
		return matching.JobAggregate{}, fmt.Errorf("beginScoring count processed: %w", err)
	}

	agg, err := scanAggregate(tx.QueryRow(ctx,
		`INSERT INTO job_scoring (job_id, total, scored, failed, status, completed_at, updated_at)
		 VALUES ($1, $2::int, $3::int, $4::int,
		         CASE WHEN $3::int >= $2::int THEN 'COMPLETE' ELSE 'SCORING' END,
		         CASE WHEN $3::int >= $2::int THEN NOW() END,
		         NOW())
		 ON CONFLICT (job_id) DO UPDATE
		   SET total = EXCLUDED.total, scored = EXCLUDED.scored, failed = EXCLUDED.failed,
		       status = EXCLUDED.status, completed_at = EXCLUDED.completed_at, updated_at = NOW()
		   WHERE job_scoring.status = 'PENDING'
		 RETURNING `+aggregateColumns, jobID, total, scored, failed))
	if errors.Is(err, pgx.ErrNoRows) {
		// already past PENDING
		return p.Aggregate(ctx, jobID)
	}
	if err != nil {
		return matching.JobAggregate{}, fmt.Errorf("beginScoring upsert: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE applications SET state = 'QUEUED', updated_at = NOW()
		 WHERE job_id = $1 AND state NOT IN ('COMMITTED', 'FAILED_TERMINAL')`, jobID); err != nil {
		return matching.JobAggregate{}, fmt.Errorf("beginScoring queue applications: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return matching.JobAggregate{}, fmt.Errorf("beginScoring commit: %w", err)
	}
	return agg, nil
}

func (p *Postgres) SetTaskState(ctx context.Context, applicationID string, state matching.TaskState) error {
	if !validTaskState(state) {
		return fmt.Errorf("%w: %s", ErrInvalidTaskState, state)
	}

	tag, err := p.pool.Exec(ctx,
		`UPDATE applications SET state = $2, updated_at = NOW()
		 WHERE id = $1 AND state NOT IN ('COMMITTED', 'FAILED_TERMINAL')`, applicationID, string(state))
	if err != nil {
		return fmt.Errorf("setTaskState: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)`, applicationID).Scan(&exists); err != nil {
			return fmt.Errorf("setTaskState lookup: %w", err)
		}
		if !exists {
			return fmt.Errorf("application %q: %w", applicationID, matching.ErrApplicationNotFound)
		}
	}
	return nil
}

func (p *Postgres) CommitResult(ctx context.Context, applicationID string, result matching.ScoringResult) (matching.Completion, error) {
	analysis, err := json.Marshal(result)
	if err != nil {
		return matching.Completion{}, fmt.Errorf("marshal analysis: %w", err)
	}

	return p.complete(ctx, applicationID, func(tx pgx.Tx, previous matching.TaskState) (int, int, bool, error) {
		if _, err := tx.Exec(ctx,
			`UPDATE applications
			 SET state = 'COMMITTED', score = $2, analysis = $3::jsonb, failure_reason = NULL, updated_at = NOW()
			 WHERE id = $1`, applicationID, result.Score, string(analysis)); err != nil {
			return 0, 0, false, fmt.Errorf("commitResult update: %w", err)
		}

		switch {
		case !previous.Processed():
			return 1, 0, true, nil
		case previous == matching.TaskFailedTerminal:
			return 0, -1, false, nil
		default:
			return 0, 0, false, nil
		}
	})
}

func (p *Postgres) MarkFailed(ctx context.Context, applicationID, reason string) (matching.Completion, error) {
	return p.complete(ctx, applicationID, func(tx pgx.Tx, previous matching.TaskState) (int, int, bool, error) {
		if previous.Processed() {
			return 0, 0, false, nil
		}
		if _, err := tx.Exec(ctx,
			`UPDATE applications SET state = 'FAILED_TERMINAL', failure_reason = $2, updated_at = NOW()
			 WHERE id = $1`, applicationID, reason); err != nil {
			return 0, 0, false, fmt.Errorf("markFailed update: %w", err)
		}
		return 1, 1, true, nil
	})
}

// complete runs write inside one transaction together with the counter update
// and the conditional COMPLETE flip.
func (p *Postgres) complete(
	ctx context.Context,
	applicationID string,
	write func(tx pgx.Tx, previous matching.TaskState) (scoredDelta, failedDelta int, counted bool, err error),
) (matching.Completion, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return matching.Completion{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		jobID    string
		previous matching.TaskState
	)
	err = tx.QueryRow(ctx,
		`SELECT job_id, state FROM applications WHERE id = $1 FOR UPDATE`, applicationID,
	).Scan(&jobID, &previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return matching.Completion{}, fmt.Errorf("application %q: %w", applicationID, matching.ErrApplicationNotFound)
	}
	if err != nil {
		return matching.Completion{}, fmt.Errorf("lock application: %w", err)
	}

	scoredDelta, failedDelta, counted, err := write(tx, previous)
	if err != nil {
		return matching.Completion{}, err
	}

	// The UPDATE takes the aggregate row lock; concurrent completions of the
	// same job queue up here and each sees the previous increment.
	agg, err := scanAggregate(tx.QueryRow(ctx,
		`UPDATE job_scoring
		 SET scored = scored + $2, failed = failed + $3, updated_at = NOW()
		 WHERE job_id = $1 AND status <> 'PENDING'
		 RETURNING `+aggregateColumns, jobID, scoredDelta, failedDelta))
	if errors.Is(err, pgx.ErrNoRows) {
		return matching.Completion{}, fmt.Errorf("job %q: %w", jobID, ErrNoAggregate)
	}
	if err != nil {
		return matching.Completion{}, fmt.Errorf("update aggregate: %w", err)
	}

	flipped := false
	if agg.Done() && matching.IsTransitionAllowed(agg.Status, matching.StatusComplete) {
		var completedAt time.Time
		err := tx.QueryRow(ctx,
			`UPDATE job_scoring SET status = 'COMPLETE', completed_at = NOW()
			 WHERE job_id = $1 AND status <> 'COMPLETE'
			 RETURNING completed_at`, jobID).Scan(&completedAt)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return matching.Completion{}, fmt.Errorf("flip aggregate: %w", err)
		default:
			flipped = true
			agg.Status = matching.StatusComplete
			agg.CompletedAt = &completedAt
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return matching.Completion{}, fmt.Errorf("commit: %w", err)
	}

	return matching.Completion{Aggregate: agg, Counted: counted, Flipped: flipped}, nil
}

func (p *Postgres) Aggregate(ctx context.Context, jobID string) (matching.JobAggregate, error) {
	agg, err := scanAggregate(p.pool.QueryRow(ctx,
		`SELECT `+aggregateColumns+` FROM job_scoring WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return matching.JobAggregate{}, fmt.Errorf("job %q: %w", jobID, ErrNoAggregate)
	}
	if err != nil {
		return matching.JobAggregate{}, fmt.Errorf("aggregate query: %w", err)
	}
	return agg, nil
}

func (p *Postgres) Result(ctx context.Context, applicationID string) (*matching.ScoringResult, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT analysis FROM applications WHERE id = $1`, applicationID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("application %q: %w", applicationID, matching.ErrApplicationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("result query: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var res matching.ScoringResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &res, nil
}

// Seed inserts jobs, candidates, resumes and applications, skipping rows that
// already exist. Used to load the same data file as the memory store.
func (p *Postgres) Seed(ctx context.Context, m *Memory) error {
	jobs := m.allJobs()
	candidates, err := m.Candidates(ctx)
	if err != nil {
		return fmt.Errorf("seed candidates: %w", err)
	}

	batch := &pgx.Batch{}
	for _, j := range jobs {
		batch.Queue(`INSERT INTO companies (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, j.Company.ID, j.Company.Name)
		batch.Queue(
			`INSERT INTO jobs (id, company_id, title, description, employment_type, experience, tags, location, active, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT (id) DO NOTHING`,
			j.ID, j.Company.ID, j.Title, j.Description, j.EmploymentType, j.Experience, j.Tags, j.Location, j.Active, j.CreatedAt)
	}
	for _, c := range candidates {
		batch.Queue(`INSERT INTO candidates (id, name, experience, skills) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
			c.ID, c.Name, c.Experience, c.Skills)
		if doc, err := m.Resume(ctx, c.ID); err == nil {
			batch.Queue(`INSERT INTO resumes (candidate_id, content_type, data) VALUES ($1, $2, $3) ON CONFLICT (candidate_id) DO NOTHING`,
				doc.CandidateID, doc.ContentType, doc.Data)
		}
	}
	for _, j := range jobs {
		apps, err := m.Applications(ctx, j.ID)
		if err != nil {
			return fmt.Errorf("seed applications of %q: %w", j.ID, err)
		}
		for _, a := range apps {
			batch.Queue(`INSERT INTO applications (id, job_id, candidate_id, state) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
				a.ID, a.JobID, a.CandidateID, string(a.State))
		}
	}

	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}
