package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tyler180/quiz-results/internal/model"
)

// fake client implementing DynamoDBAPI
type fakeDDB struct {
	batchCalls int
	// simulate first attempt returning unprocessed, later attempts succeed
	failFirst bool
	written   int

	teams map[string]map[string]types.AttributeValue // "<city>#<slug>"
	scans map[string][]map[string]types.AttributeValue
	pages int

	updated []string
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{
		teams: map[string]map[string]types.AttributeValue{},
		scans: map[string][]map[string]types.AttributeValue{},
	}
}

func (f *fakeDDB) BatchWriteItem(ctx context.Context, in *ddb.BatchWriteItemInput, _ ...func(*ddb.Options)) (*ddb.BatchWriteItemOutput, error) {
	f.batchCalls++
	if f.failFirst {
		f.failFirst = false
		// Echo back all as unprocessed to force a retry
		return &ddb.BatchWriteItemOutput{UnprocessedItems: in.RequestItems}, nil
	}
	for _, reqs := range in.RequestItems {
		f.written += len(reqs)
	}
	return &ddb.BatchWriteItemOutput{}, nil
}

func teamKey(item map[string]types.AttributeValue) string {
	city := item["CityID"].(*types.AttributeValueMemberN).Value
	slug := item["Slug"].(*types.AttributeValueMemberS).Value
	return city + "#" + slug
}

func (f *fakeDDB) PutItem(ctx context.Context, in *ddb.PutItemInput, _ ...func(*ddb.Options)) (*ddb.PutItemOutput, error) {
	k := teamKey(in.Item)
	if _, ok := f.teams[k]; ok && aws.ToString(in.ConditionExpression) != "" {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.teams[k] = in.Item
	return &ddb.PutItemOutput{}, nil
}

// GetItem only sees recent writes on consistent reads.
func (f *fakeDDB) GetItem(ctx context.Context, in *ddb.GetItemInput, _ ...func(*ddb.Options)) (*ddb.GetItemOutput, error) {
	if !aws.ToBool(in.ConsistentRead) {
		return &ddb.GetItemOutput{}, nil
	}
	return &ddb.GetItemOutput{Item: f.teams[teamKey(in.Key)]}, nil
}

func (f *fakeDDB) Query(ctx context.Context, in *ddb.QueryInput, _ ...func(*ddb.Options)) (*ddb.QueryOutput, error) {
	want := in.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberS).Value
	for _, it := range f.teams {
		if it["CityName"].(*types.AttributeValueMemberS).Value == want {
			return &ddb.QueryOutput{Items: []map[string]types.AttributeValue{it}}, nil
		}
	}
	return &ddb.QueryOutput{}, nil
}

// Scan returns one item per page to exercise pagination.
func (f *fakeDDB) Scan(ctx context.Context, in *ddb.ScanInput, _ ...func(*ddb.Options)) (*ddb.ScanOutput, error) {
	f.pages++
	items := f.scans[aws.ToString(in.TableName)]
	start := 0
	if in.ExclusiveStartKey != nil {
		fmt.Sscanf(in.ExclusiveStartKey["i"].(*types.AttributeValueMemberN).Value, "%d", &start)
	}
	if start >= len(items) {
		return &ddb.ScanOutput{}, nil
	}
	out := &ddb.ScanOutput{Items: items[start : start+1]}
	if start+1 < len(items) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"i": &types.AttributeValueMemberN{Value: fmt.Sprint(start + 1)},
		}
	}
	return out, nil
}

func (f *fakeDDB) UpdateItem(ctx context.Context, in *ddb.UpdateItemInput, _ ...func(*ddb.Options)) (*ddb.UpdateItemOutput, error) {
	id := in.Key["ID"].(*types.AttributeValueMemberN).Value
	if id == "404" {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	f.updated = append(f.updated, id)
	return &ddb.UpdateItemOutput{}, nil
}

var testTables = Tables{Cities: "cities", Teams: "teams", Results: "results", Games: "games", Ranks: "ranks"}

func TestSaveResults_BatchingAndRetry(t *testing.T) {
	// 30 results -> 25 + 5 batches
	var rows []model.GameResult
	for i := 0; i < 30; i++ {
		rows = append(rows, model.GameResult{
			ID:     fmt.Sprintf("r%02d", i),
			GameID: 7,
			TeamID: fmt.Sprintf("t%02d", i),
			Rounds: []float64{1, 2.5},
			Sum:    3.5,
			Place:  i + 1,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fc := newFakeDDB()
	fc.failFirst = true
	if err := NewDynamoDB(fc, testTables).SaveResults(ctx, rows); err != nil {
		t.Fatalf("SaveResults error: %v", err)
	}

	// first batch retried once, second batch succeeds immediately
	if fc.batchCalls != 3 {
		t.Fatalf("expected 3 BatchWriteItem calls, got %d", fc.batchCalls)
	}
	if fc.written != 30 {
		t.Fatalf("expected 30 written items, got %d", fc.written)
	}
}

func TestSaveTeam_SlugTaken(t *testing.T) {
	ctx := context.Background()
	fc := newFakeDDB()
	d := NewDynamoDB(fc, testTables)

	first := model.Team{ID: "a", CityID: 1, Name: "Quiz Masters", Slug: "quiz-masters"}
	if err := d.SaveTeam(ctx, first); err != nil {
		t.Fatalf("SaveTeam: %v", err)
	}
	err := d.SaveTeam(ctx, model.Team{ID: "b", CityID: 1, Name: "Quiz  Masters!", Slug: "quiz-masters"})
	if !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
	// same slug in another city is fine
	if err := d.SaveTeam(ctx, model.Team{ID: "c", CityID: 2, Name: "Quiz Masters", Slug: "quiz-masters"}); err != nil {
		t.Fatalf("SaveTeam other city: %v", err)
	}

	got, err := d.FindTeamBySlugAndCity(ctx, "quiz-masters", 1)
	if err != nil || got.ID != "a" {
		t.Fatalf("FindTeamBySlugAndCity = %+v, %v", got, err)
	}
	got, err = d.FindTeamByNameAndCity(ctx, "Quiz Masters", 2)
	if err != nil || got.ID != "c" {
		t.Fatalf("FindTeamByNameAndCity = %+v, %v", got, err)
	}
	if _, err := d.FindTeamBySlugAndCity(ctx, "nope", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCities_PaginatesAndMatchesName(t *testing.T) {
	fc := newFakeDDB()
	fc.scans["cities"] = []map[string]types.AttributeValue{
		{"ID": &types.AttributeValueMemberN{Value: "1"}, "Name": &types.AttributeValueMemberS{Value: "Москва"}, "Slug": &types.AttributeValueMemberS{Value: "moscow"}},
		{"ID": &types.AttributeValueMemberN{Value: "2"}, "Name": &types.AttributeValueMemberS{Value: "Казань"}, "Slug": &types.AttributeValueMemberS{Value: "kazan"}},
	}
	d := NewDynamoDB(fc, testTables)

	cities, err := d.Cities(context.Background())
	if err != nil {
		t.Fatalf("Cities: %v", err)
	}
	if len(cities) != 2 || fc.pages != 2 {
		t.Fatalf("expected 2 cities over 2 pages, got %d over %d", len(cities), fc.pages)
	}

	c, err := d.FindCityByName(context.Background(), " казань ")
	if err != nil || c.ID != 2 {
		t.Fatalf("FindCityByName = %+v, %v", c, err)
	}
	if _, err := d.FindCityByName(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank name, got %v", err)
	}
	if _, err := d.FindCityByName(context.Background(), "Москва"); err != nil {
		t.Fatalf("FindCityByName(Москва): %v", err)
	}
	if fc.pages != 2 {
		t.Fatalf("lookups must reuse the loaded cities, got %d scan pages", fc.pages)
	}
}

func TestFindCityByName_LoadsOnce(t *testing.T) {
	fc := newFakeDDB()
	fc.scans["cities"] = []map[string]types.AttributeValue{
		{"ID": &types.AttributeValueMemberN{Value: "1"}, "Name": &types.AttributeValueMemberS{Value: "Москва"}, "Slug": &types.AttributeValueMemberS{Value: "moscow"}},
	}
	d := NewDynamoDB(fc, testTables)

	for i := 0; i < 3; i++ {
		if c, err := d.FindCityByName(context.Background(), "москва"); err != nil || c.ID != 1 {
			t.Fatalf("FindCityByName = %+v, %v", c, err)
		}
	}
	if _, err := d.FindCityByName(context.Background(), "Тверь"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if fc.pages != 1 {
		t.Fatalf("expected a single scan page, got %d", fc.pages)
	}
}

func TestMarkGameAsProcessed(t *testing.T) {
	fc := newFakeDDB()
	d := NewDynamoDB(fc, testTables)
	if err := d.MarkGameAsProcessed(context.Background(), 12); err != nil {
		t.Fatalf("MarkGameAsProcessed: %v", err)
	}
	if len(fc.updated) != 1 || fc.updated[0] != "12" {
		t.Fatalf("unexpected updates %v", fc.updated)
	}
	if err := d.MarkGameAsProcessed(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
