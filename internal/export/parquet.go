// Package export archives processed game results as parquet files on S3,
// partitioned by game for Athena.
package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	parquet "github.com/parquet-go/parquet-go"

	"github.com/tyler180/quiz-results/internal/model"
)

type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ResultRow is the parquet layout of one exported result. game_id is also
// the partition key in the object path.
type ResultRow struct {
	ResultID   string    `parquet:"result_id"`
	GameID     int64     `parquet:"game_id"`
	CityID     int64     `parquet:"city_id"`
	TeamID     string    `parquet:"team_id"`
	Rounds     []float64 `parquet:"rounds,list"`
	RoundsSum  float64   `parquet:"rounds_sum"`
	Total      float64   `parquet:"total"`
	Place      int32     `parquet:"place"`
	RankID     *string   `parquet:"rank_id,optional"`
	HasErrors  bool      `parquet:"has_errors"`
	ExportedAt int64     `parquet:"exported_at"`
}

type Exporter struct {
	cl     S3API
	bucket string
	prefix string
	now    func() time.Time
}

func NewExporter(cl S3API, bucket, prefix string) *Exporter {
	return &Exporter{
		cl:     cl,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

func nowStamp(t time.Time) string { return t.UTC().Format("20060102T150405Z") }

// Key returns the object key for a game's export at t.
func (e *Exporter) Key(gameID int, t time.Time) string {
	k := fmt.Sprintf("game_id=%d/results-%s.parquet", gameID, nowStamp(t))
	if e.prefix == "" {
		return k
	}
	return e.prefix + "/" + k
}

// ExportGame writes one game's results and returns the object key. Nothing
// is written for an empty batch.
func (e *Exporter) ExportGame(ctx context.Context, game model.Game, results []model.GameResult) (string, error) {
	if len(results) == 0 {
		return "", nil
	}
	now := e.now()
	rows := make([]ResultRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, ResultRow{
			ResultID:   r.ID,
			GameID:     int64(r.GameID),
			CityID:     int64(game.CityID),
			TeamID:     r.TeamID,
			Rounds:     r.Rounds,
			RoundsSum:  model.RoundsSum(r.Rounds),
			Total:      r.Sum,
			Place:      int32(r.Place),
			RankID:     r.RankID,
			HasErrors:  r.HasErrors,
			ExportedAt: now.Unix(),
		})
	}

	body, err := encode(rows)
	if err != nil {
		return "", fmt.Errorf("encode parquet for game %d: %w", game.ID, err)
	}
	key := e.Key(game.ID, now)
	_, err = e.cl.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/vnd.apache.parquet"),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", e.bucket, key, err)
	}
	return key, nil
}

func encode(rows []ResultRow) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[ResultRow](&buf, parquet.Compression(&parquet.Snappy))
	if _, err := w.Write(rows); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
