// Package audit runs discrepancy reports over the exported results with Athena.
package audit

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"

	"github.com/tyler180/quiz-results/pkg/logger"
)

type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

type Runner struct {
	Client    AthenaAPI
	Workgroup string
	Database  string
	OutputS3  string // s3://bucket/prefix/
	Logger    logger.Logger
	// PollInterval defaults to one second.
	PollInterval time.Duration
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (r *Runner) log() logger.Logger {
	if r.Logger == nil {
		return logger.Nop()
	}
	return r.Logger
}

func (r *Runner) ExecAndWait(ctx context.Context, sql string) (*types.QueryExecution, error) {
	in := &athena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: aws.String(r.Database),
		},
		WorkGroup: aws.String(r.Workgroup),
	}
	if r.OutputS3 != "" {
		in.ResultConfiguration = &types.ResultConfiguration{OutputLocation: aws.String(r.OutputS3)}
	}
	startOut, err := r.Client.StartQueryExecution(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("start query: %w", err)
	}
	qid := aws.ToString(startOut.QueryExecutionId)
	r.log().Debug(ctx, "athena query started", logger.String("qid", qid))

	every := r.PollInterval
	if every <= 0 {
		every = time.Second
	}
	tick := time.NewTicker(every)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tick.C:
			ge, err := r.Client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
				QueryExecutionId: aws.String(qid),
			})
			if err != nil {
				return nil, fmt.Errorf("get query execution: %w", err)
			}
			qe := ge.QueryExecution
			if qe == nil || qe.Status == nil {
				continue
			}
			switch qe.Status.State {
			case types.QueryExecutionStateSucceeded:
				if st := qe.Statistics; st != nil {
					r.log().Info(ctx, "athena query succeeded",
						logger.String("qid", qid),
						logger.Float64("scanned_mb", float64(aws.ToInt64(st.DataScannedInBytes))/1024.0/1024.0),
						logger.Float64("exec_sec", float64(aws.ToInt64(st.EngineExecutionTimeInMillis))/1000.0))
				}
				return qe, nil
			case types.QueryExecutionStateFailed:
				return nil, errors.New("athena failed: " + aws.ToString(qe.Status.StateChangeReason))
			case types.QueryExecutionStateCancelled:
				return nil, errors.New("athena cancelled")
			default:
				// still running
			}
		}
	}
}

// EnsureTable declares the external table over the parquet archive.
func (r *Runner) EnsureTable(ctx context.Context, table, location string) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	ddl := fmt.Sprintf(`CREATE EXTERNAL TABLE IF NOT EXISTS %s (
  result_id string,
  game_id bigint,
  city_id bigint,
  team_id string,
  rounds array<double>,
  rounds_sum double,
  total double,
  place int,
  rank_id string,
  has_errors boolean,
  exported_at bigint
)
STORED AS PARQUET
LOCATION '%s'`, table, location)
	_, err := r.ExecAndWait(ctx, ddl)
	return err
}

// GameDiscrepancy summarizes one game's flagged results.
type GameDiscrepancy struct {
	GameID  int
	Results int
	Flagged int
	MaxGap  float64
}

func discrepancySQL(table string) string {
	return fmt.Sprintf(`SELECT game_id,
  COUNT(*) AS results,
  SUM(CASE WHEN has_errors THEN 1 ELSE 0 END) AS flagged,
  MAX(ABS(rounds_sum - total)) AS max_gap
FROM %s
GROUP BY game_id
HAVING SUM(CASE WHEN has_errors THEN 1 ELSE 0 END) > 0
ORDER BY flagged DESC, game_id`, table)
}

// DiscrepancySummary returns every game with at least one flagged result.
func (r *Runner) DiscrepancySummary(ctx context.Context, table string) ([]GameDiscrepancy, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	exec, err := r.ExecAndWait(ctx, discrepancySQL(table))
	if err != nil {
		return nil, err
	}

	var out []GameDiscrepancy
	var token *string
	header := true
	for {
		gr, err := r.Client.GetQueryResults(ctx, &athena.GetQueryResultsInput{
			QueryExecutionId: exec.QueryExecutionId,
			NextToken:        token,
		})
		if err != nil {
			return nil, fmt.Errorf("get results: %w", err)
		}
		if gr.ResultSet != nil {
			for _, row := range gr.ResultSet.Rows {
				if header {
					header = false
					continue
				}
				d, err := parseRow(row)
				if err != nil {
					return nil, err
				}
				out = append(out, d)
			}
		}
		if gr.NextToken == nil {
			break
		}
		token = gr.NextToken
	}
	return out, nil
}

func parseRow(row types.Row) (GameDiscrepancy, error) {
	if len(row.Data) < 4 {
		return GameDiscrepancy{}, errors.New("unexpected discrepancy result shape")
	}
	cell := func(i int) string { return aws.ToString(row.Data[i].VarCharValue) }

	var d GameDiscrepancy
	var err error
	if d.GameID, err = strconv.Atoi(cell(0)); err != nil {
		return d, fmt.Errorf("parse game_id: %w", err)
	}
	if d.Results, err = strconv.Atoi(cell(1)); err != nil {
		return d, fmt.Errorf("parse results: %w", err)
	}
	if d.Flagged, err = strconv.Atoi(cell(2)); err != nil {
		return d, fmt.Errorf("parse flagged: %w", err)
	}
	if d.MaxGap, err = strconv.ParseFloat(cell(3), 64); err != nil {
		return d, fmt.Errorf("parse max_gap: %w", err)
	}
	return d, nil
}
