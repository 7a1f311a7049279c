package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tyler180/quiz-results/internal/model"
)

type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Tables names the DynamoDB tables backing the registry.
//
//	Cities   PK=ID (N)
//	Teams    PK=CityID (N), SK=Slug (S), GSI "CityName" PK=CityName (S) = "<cityID>#<name>"
//	Results  PK=GameID (N), SK=ID (S)
//	Games    PK=ID (N)
//	Ranks    PK=ID (S)
type Tables struct {
	Cities  string
	Teams   string
	Results string
	Games   string
	Ranks   string
}

const teamNameIndex = "CityName"

type DynamoDB struct {
	client DynamoDBAPI
	tables Tables

	// cities is the set from the last Cities scan; FindCityByName reads it.
	mu     sync.Mutex
	cities []model.City
}

func NewDynamoDB(client DynamoDBAPI, tables Tables) *DynamoDB {
	return &DynamoDB{client: client, tables: tables}
}

type cityItem struct {
	ID         int    `dynamodbav:"ID"`
	Name       string `dynamodbav:"Name"`
	Slug       string `dynamodbav:"Slug"`
	Timezone   string `dynamodbav:"Timezone"`
	LastGameID *int   `dynamodbav:"LastGameID,omitempty"`
}

type teamItem struct {
	CityID           int     `dynamodbav:"CityID"`
	Slug             string  `dynamodbav:"Slug"`
	ID               string  `dynamodbav:"TeamID"`
	Name             string  `dynamodbav:"Name"`
	CityName         string  `dynamodbav:"CityName"`
	PreviousTeamID   *string `dynamodbav:"PreviousTeamID,omitempty"`
	InconsistentRank bool    `dynamodbav:"InconsistentRank"`
}

type resultItem struct {
	GameID    int       `dynamodbav:"GameID"`
	ID        string    `dynamodbav:"ID"`
	TeamID    string    `dynamodbav:"TeamID"`
	Rounds    []float64 `dynamodbav:"Rounds"`
	Sum       float64   `dynamodbav:"Sum"`
	Place     int       `dynamodbav:"Place"`
	RankID    *string   `dynamodbav:"RankID,omitempty"`
	HasErrors bool      `dynamodbav:"HasErrors"`
	UpdatedAt int64     `dynamodbav:"UpdatedAt"`
}

type gameItem struct {
	ID        int       `dynamodbav:"ID"`
	CityID    int       `dynamodbav:"CityID"`
	SeriesID  string    `dynamodbav:"SeriesID"`
	Number    string    `dynamodbav:"Number"`
	Date      time.Time `dynamodbav:"Date"`
	Price     float64   `dynamodbav:"Price"`
	Location  string    `dynamodbav:"Location"`
	Address   string    `dynamodbav:"Address"`
	IsStream  bool      `dynamodbav:"IsStream"`
	Processed bool      `dynamodbav:"Processed"`
}

type rankItem struct {
	ID        string   `dynamodbav:"ID"`
	Name      string   `dynamodbav:"Name"`
	ImageURLs []string `dynamodbav:"ImageURLs"`
}

func cityNameKey(cityID int, name string) string {
	return strconv.Itoa(cityID) + "#" + model.NormalizeName(name)
}

func (d *DynamoDB) FindCityByName(ctx context.Context, name string) (model.City, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.City{}, ErrNotFound
	}
	d.mu.Lock()
	cities := d.cities
	d.mu.Unlock()
	if cities == nil {
		var err error
		if cities, err = d.Cities(ctx); err != nil {
			return model.City{}, err
		}
	}
	for _, c := range cities {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return model.City{}, ErrNotFound
}

func (d *DynamoDB) FindTeamByNameAndCity(ctx context.Context, name string, cityID int) (model.Team, error) {
	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tables.Teams),
		IndexName:              aws.String(teamNameIndex),
		KeyConditionExpression: aws.String("#k = :v"),
		ExpressionAttributeNames: map[string]string{
			"#k": "CityName",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: cityNameKey(cityID, name)},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return model.Team{}, fmt.Errorf("query team by name: %w", err)
	}
	if len(out.Items) == 0 {
		return model.Team{}, ErrNotFound
	}
	return decodeTeam(out.Items[0])
}

func (d *DynamoDB) FindTeamBySlugAndCity(ctx context.Context, slug string, cityID int) (model.Team, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tables.Teams),
		Key: map[string]types.AttributeValue{
			"CityID": &types.AttributeValueMemberN{Value: strconv.Itoa(cityID)},
			"Slug":   &types.AttributeValueMemberS{Value: slug},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.Team{}, fmt.Errorf("get team by slug: %w", err)
	}
	if len(out.Item) == 0 {
		return model.Team{}, ErrNotFound
	}
	return decodeTeam(out.Item)
}

func decodeTeam(it map[string]types.AttributeValue) (model.Team, error) {
	var ti teamItem
	if err := attributevalue.UnmarshalMap(it, &ti); err != nil {
		return model.Team{}, fmt.Errorf("decode team: %w", err)
	}
	return model.Team{
		ID:               ti.ID,
		CityID:           ti.CityID,
		Name:             ti.Name,
		Slug:             ti.Slug,
		PreviousTeamID:   ti.PreviousTeamID,
		InconsistentRank: ti.InconsistentRank,
	}, nil
}

// SaveTeam creates the team; the (CityID, Slug) key must be free.
func (d *DynamoDB) SaveTeam(ctx context.Context, t model.Team) error {
	item, err := attributevalue.MarshalMap(teamItem{
		CityID:           t.CityID,
		Slug:             t.Slug,
		ID:               t.ID,
		Name:             t.Name,
		CityName:         cityNameKey(t.CityID, t.Name),
		PreviousTeamID:   t.PreviousTeamID,
		InconsistentRank: t.InconsistentRank,
	})
	if err != nil {
		return fmt.Errorf("encode team: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tables.Teams),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(Slug)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrSlugTaken
	}
	if err != nil {
		return fmt.Errorf("put team: %w", err)
	}
	return nil
}

func (d *DynamoDB) SaveResults(ctx context.Context, results []model.GameResult) error {
	if len(results) == 0 {
		return nil
	}
	const maxBatch = 25
	now := time.Now().Unix()

	for i := 0; i < len(results); i += maxBatch {
		end := i + maxBatch
		if end > len(results) {
			end = len(results)
		}

		reqs := make([]types.WriteRequest, 0, end-i)
		for _, r := range results[i:end] {
			if r.ID == "" || r.TeamID == "" {
				continue
			}
			item, err := attributevalue.MarshalMap(resultItem{
				GameID:    r.GameID,
				ID:        r.ID,
				TeamID:    r.TeamID,
				Rounds:    r.Rounds,
				Sum:       r.Sum,
				Place:     r.Place,
				RankID:    r.RankID,
				HasErrors: r.HasErrors,
				UpdatedAt: now,
			})
			if err != nil {
				return fmt.Errorf("encode result %s: %w", r.ID, err)
			}
			reqs = append(reqs, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: item},
			})
		}
		if len(reqs) == 0 {
			continue
		}
		if err := batchWriteWithRetry(ctx, d.client, d.tables.Results, reqs); err != nil {
			return fmt.Errorf("batch write results: %w", err)
		}
	}
	return nil
}

func batchWriteWithRetry(ctx context.Context, ddb DynamoDBAPI, table string, reqs []types.WriteRequest) error {
	input := &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{table: reqs},
	}
	const maxAttempts = 6
	backoff := 120 * time.Millisecond

	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err := ddb.BatchWriteItem(ctx, input)
		if err != nil {
			return err
		}
		if len(out.UnprocessedItems) == 0 || len(out.UnprocessedItems[table]) == 0 {
			return nil
		}
		input.RequestItems = out.UnprocessedItems
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff += 120 * time.Millisecond
		}
	}
	return fmt.Errorf("unprocessed items remained after retries for table %s", table)
}

// scanAll pages through a table and decodes every item into out.
func (d *DynamoDB) scanAll(ctx context.Context, in *dynamodb.ScanInput, out interface{}) error {
	var items []map[string]types.AttributeValue
	var lastKey map[string]types.AttributeValue
	for {
		in.ExclusiveStartKey = lastKey
		page, err := d.client.Scan(ctx, in)
		if err != nil {
			return fmt.Errorf("scan %s: %w", aws.ToString(in.TableName), err)
		}
		items = append(items, page.Items...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		lastKey = page.LastEvaluatedKey
	}
	return attributevalue.UnmarshalListOfMaps(items, out)
}

func (d *DynamoDB) Cities(ctx context.Context) ([]model.City, error) {
	var rows []cityItem
	if err := d.scanAll(ctx, &dynamodb.ScanInput{TableName: aws.String(d.tables.Cities)}, &rows); err != nil {
		return nil, err
	}
	out := make([]model.City, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.City{ID: r.ID, Name: r.Name, Slug: r.Slug, Timezone: r.Timezone, LastGameID: r.LastGameID})
	}
	d.mu.Lock()
	d.cities = out
	d.mu.Unlock()
	return out, nil
}

func (d *DynamoDB) RankMappings(ctx context.Context) ([]model.RankMapping, error) {
	var rows []rankItem
	if err := d.scanAll(ctx, &dynamodb.ScanInput{TableName: aws.String(d.tables.Ranks)}, &rows); err != nil {
		return nil, err
	}
	out := make([]model.RankMapping, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.RankMapping{ID: r.ID, Name: r.Name, ImageURLs: r.ImageURLs})
	}
	return out, nil
}

func (d *DynamoDB) GamesWithoutResults(ctx context.Context) ([]model.Game, error) {
	var rows []gameItem
	err := d.scanAll(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(d.tables.Games),
		FilterExpression: aws.String("#p = :f OR attribute_not_exists(#p)"),
		ExpressionAttributeNames: map[string]string{
			"#p": "Processed",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	}, &rows)
	if err != nil {
		return nil, err
	}
	out := make([]model.Game, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Game{
			ID: r.ID, CityID: r.CityID, SeriesID: r.SeriesID, Number: r.Number, Date: r.Date,
			Price: r.Price, Location: r.Location, Address: r.Address, IsStream: r.IsStream, Processed: r.Processed,
		})
	}
	return out, nil
}

func (d *DynamoDB) MarkGameAsProcessed(ctx context.Context, gameID int) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tables.Games),
		Key: map[string]types.AttributeValue{
			"ID": &types.AttributeValueMemberN{Value: strconv.Itoa(gameID)},
		},
		UpdateExpression: aws.String("SET Processed = :t, ProcessedAt = :now"),
		// avoid creating new items accidentally
		ConditionExpression: aws.String("attribute_exists(ID)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":   &types.AttributeValueMemberBOOL{Value: true},
			":now": &types.AttributeValueMemberN{Value: now},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrNotFound
	}
	return err
}
