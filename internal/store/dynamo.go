package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"sankeyhub/internal/config"
	apierrors "sankeyhub/internal/errors"
	"sankeyhub/pkg/contracts/domain"
)

// Secondary indexes. Both are read-only projections: the store only ever
// queries them, DynamoDB maintains them from the base table.
const (
	brokerAccountIndex = "BrokerAccountIndex"
	statusIndex        = "StatusIndex"
)

// NewClient builds a DynamoDB client for the configured region, honoring an
// endpoint override (config or AWS_ENDPOINT_URL) for localstack and
// dynamodb-local development.
func NewClient(ctx context.Context, cfg config.DynamoConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("AWS_ENDPOINT_URL")
	}
	if endpoint == "" {
		return dynamodb.NewFromConfig(awsCfg), nil
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	}), nil
}

// DynamoStore implements Store on a single DynamoDB table.
type DynamoStore struct {
	client    *dynamodb.Client
	table     string
	retention int
	logger    *slog.Logger
}

// NewDynamoStore wires a Store onto an existing client and the configured
// table.
func NewDynamoStore(client *dynamodb.Client, cfg config.DynamoConfig, logger *slog.Logger) *DynamoStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamoStore{
		client:    client,
		table:     cfg.Table,
		retention: cfg.RetentionMonths,
		logger:    logger.With(slog.String("component", "store")),
	}
}

// Ping verifies the table exists and answers.
func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err != nil {
		return fmt.Errorf("describe table %s: %w", s.table, err)
	}
	return nil
}

// PutApplication creates a new application item. The create is conditional
// on the key not existing, so an intake replay cannot overwrite state.
func (s *DynamoStore) PutApplication(ctx context.Context, app *domain.Application) error {
	item, err := attributevalue.MarshalMap(newApplicationItem(app, s.retention))
	if err != nil {
		return fmt.Errorf("marshal application %s: %w", app.Ref(), err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(userId) AND attribute_not_exists(sk)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("application %s already exists: %w", app.Ref(), apierrors.ErrConditionFailed)
		}
		return fmt.Errorf("put application %s: %w", app.Ref(), err)
	}
	return nil
}

// GetApplication reads one application with a consistent read, so
// read-modify-write loops observe their own writes.
func (s *DynamoStore) GetApplication(ctx context.Context, ref domain.ApplicationRef) (*domain.Application, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(ref.UserID, ref.SK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get application %s: %w", ref, err)
	}
	if out.Item == nil {
		return nil, apierrors.NewNotFound("application", ref.String())
	}

	var item applicationItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal application %s: %w", ref, err)
	}
	app := item.Application
	return &app, nil
}

// QueryApplicationsByStatus pages one user's applications in a given status
// via the StatusIndex projection.
func (s *DynamoStore) QueryApplicationsByStatus(ctx context.Context, userID string, status domain.ApplicationStatus, cursor string, limit int32) (*domain.ApplicationPage, error) {
	input := &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		IndexName:                aws.String(statusIndex),
		KeyConditionExpression:   aws.String("userId = :userId AND #status = :status"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":userId": &types.AttributeValueMemberS{Value: userID},
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}
	if cursor != "" {
		start, err := decodeCursor(cursor)
		if err != nil {
			return nil, apierrors.NewValidation("cursor", "malformed pagination cursor")
		}
		input.ExclusiveStartKey = start.startKey(userID, status)
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("query applications by status %s: %w", status, err)
	}

	page := &domain.ApplicationPage{Items: make([]domain.Application, 0, len(out.Items))}
	for _, raw := range out.Items {
		var item applicationItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshal application page item: %w", err)
		}
		page.Items = append(page.Items, item.Application)
	}
	if len(out.LastEvaluatedKey) > 0 {
		next, err := encodeCursor(out.LastEvaluatedKey)
		if err != nil {
			return nil, err
		}
		page.NextCursor = next
	}
	return page, nil
}

// QueryApplicationsByBrokerAccount looks up applications by trading account
// via the BrokerAccountIndex projection, the duplicate-application check.
func (s *DynamoStore) QueryApplicationsByBrokerAccount(ctx context.Context, broker, accountNumber string) ([]domain.Application, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(brokerAccountIndex),
		KeyConditionExpression: aws.String("broker = :broker AND accountNumber = :account"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":broker":  &types.AttributeValueMemberS{Value: broker},
			":account": &types.AttributeValueMemberS{Value: accountNumber},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query applications by broker account %s/%s: %w", broker, accountNumber, err)
	}

	apps := make([]domain.Application, 0, len(out.Items))
	for _, raw := range out.Items {
		var item applicationItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshal broker account item: %w", err)
		}
		apps = append(apps, item.Application)
	}
	return apps, nil
}

// UpdateApplicationConditionally replaces the stored application if its
// version still equals expectedVersion, advancing app.Version on success.
func (s *DynamoStore) UpdateApplicationConditionally(ctx context.Context, app *domain.Application, expectedVersion int64) error {
	app.Version = expectedVersion + 1
	item, err := attributevalue.MarshalMap(newApplicationItem(app, s.retention))
	if err != nil {
		app.Version = expectedVersion
		return fmt.Errorf("marshal application %s: %w", app.Ref(), err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_exists(userId) AND #version = :expected"),
		ExpressionAttributeNames: map[string]string{"#version": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		},
	})
	if err != nil {
		app.Version = expectedVersion
		if isConditionFailed(err) {
			return fmt.Errorf("application %s at version %d: %w", app.Ref(), expectedVersion, apierrors.ErrConditionFailed)
		}
		return fmt.Errorf("update application %s: %w", app.Ref(), err)
	}
	return nil
}

// AppendHistory writes one status change record. Records are keyed by a
// per-application sequence, so a duplicated append is rejected rather than
// silently overwritten.
func (s *DynamoStore) AppendHistory(ctx context.Context, rec *domain.StatusChangeRecord) error {
	item, err := attributevalue.MarshalMap(newHistoryItem(rec, s.retention))
	if err != nil {
		return fmt.Errorf("marshal history %s/%s: %w", rec.UserID, rec.SK, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(sk)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("history %s/%s already written: %w", rec.UserID, rec.SK, apierrors.ErrConditionFailed)
		}
		return fmt.Errorf("append history %s/%s: %w", rec.UserID, rec.SK, err)
	}
	return nil
}

// ListHistory returns one application's status changes, most recent first.
func (s *DynamoStore) ListHistory(ctx context.Context, userID, applicationSK string) ([]domain.StatusChangeRecord, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("userId = :userId AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":userId": &types.AttributeValueMemberS{Value: userID},
			":prefix": &types.AttributeValueMemberS{Value: HistorySKPrefix(applicationSK)},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("list history for %s/%s: %w", userID, applicationSK, err)
	}

	records := make([]domain.StatusChangeRecord, 0, len(out.Items))
	for _, raw := range out.Items {
		var item historyItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshal history item: %w", err)
		}
		records = append(records, item.StatusChangeRecord)
	}
	return records, nil
}

// PutIntegrationTest creates a new integration test record.
func (s *DynamoStore) PutIntegrationTest(ctx context.Context, test *domain.IntegrationTest) error {
	item, err := attributevalue.MarshalMap(newIntegrationItem(test))
	if err != nil {
		return fmt.Errorf("marshal integration test %s: %w", test.TestID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(userId)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("integration test %s already exists: %w", test.TestID, apierrors.ErrConditionFailed)
		}
		return fmt.Errorf("put integration test %s: %w", test.TestID, err)
	}
	return nil
}

// GetIntegrationTest reads one integration test by id.
func (s *DynamoStore) GetIntegrationTest(ctx context.Context, testID string) (*domain.IntegrationTest, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(TestPK(testID), IntegrationSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get integration test %s: %w", testID, err)
	}
	if out.Item == nil {
		return nil, apierrors.NewNotFound("integration test", testID)
	}

	var item integrationItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal integration test %s: %w", testID, err)
	}
	test := item.IntegrationTest
	return &test, nil
}

// UpdateIntegrationTestConditionally replaces the stored test if its version
// still equals expectedVersion, advancing test.Version on success.
func (s *DynamoStore) UpdateIntegrationTestConditionally(ctx context.Context, test *domain.IntegrationTest, expectedVersion int64) error {
	test.Version = expectedVersion + 1
	item, err := attributevalue.MarshalMap(newIntegrationItem(test))
	if err != nil {
		test.Version = expectedVersion
		return fmt.Errorf("marshal integration test %s: %w", test.TestID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_exists(userId) AND #version = :expected"),
		ExpressionAttributeNames: map[string]string{"#version": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		},
	})
	if err != nil {
		test.Version = expectedVersion
		if isConditionFailed(err) {
			return fmt.Errorf("integration test %s at version %d: %w", test.TestID, expectedVersion, apierrors.ErrConditionFailed)
		}
		return fmt.Errorf("update integration test %s: %w", test.TestID, err)
	}
	return nil
}

// GetProfile reads one user profile.
func (s *DynamoStore) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(userID, ProfileSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	if out.Item == nil {
		return nil, apierrors.NewNotFound("profile", userID)
	}

	var item profileItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal profile %s: %w", userID, err)
	}
	profile := item.UserProfile
	return &profile, nil
}

// PutProfile creates the per-user profile singleton.
func (s *DynamoStore) PutProfile(ctx context.Context, profile *domain.UserProfile) error {
	item, err := attributevalue.MarshalMap(newProfileItem(profile))
	if err != nil {
		return fmt.Errorf("marshal profile %s: %w", profile.UserID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(userId)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("profile %s already exists: %w", profile.UserID, apierrors.ErrConditionFailed)
		}
		return fmt.Errorf("put profile %s: %w", profile.UserID, err)
	}
	return nil
}

// UpdateProfileConditionally replaces the stored profile if its version
// still equals expectedVersion, advancing profile.Version on success.
func (s *DynamoStore) UpdateProfileConditionally(ctx context.Context, profile *domain.UserProfile, expectedVersion int64) error {
	profile.Version = expectedVersion + 1
	item, err := attributevalue.MarshalMap(newProfileItem(profile))
	if err != nil {
		profile.Version = expectedVersion
		return fmt.Errorf("marshal profile %s: %w", profile.UserID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_exists(userId) AND #version = :expected"),
		ExpressionAttributeNames: map[string]string{"#version": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		},
	})
	if err != nil {
		profile.Version = expectedVersion
		if isConditionFailed(err) {
			return fmt.Errorf("profile %s at version %d: %w", profile.UserID, expectedVersion, apierrors.ErrConditionFailed)
		}
		return fmt.Errorf("update profile %s: %w", profile.UserID, err)
	}
	return nil
}

// ScanAwaitingNotification returns every application parked in
// AwaitingNotification, for scheduler recovery after a restart.
func (s *DynamoStore) ScanAwaitingNotification(ctx context.Context) ([]domain.Application, error) {
	return s.scanApplications(ctx, domain.StatusAwaitingNotification, "")
}

// ScanActiveExpiring returns Active applications whose licenses lapse before
// the given instant. Timestamps marshal as RFC3339Nano strings, which do not
// compare reliably inside filter expressions, so the cut-off is applied
// after unmarshaling.
func (s *DynamoStore) ScanActiveExpiring(ctx context.Context, before time.Time) ([]domain.Application, error) {
	apps, err := s.scanApplications(ctx, domain.StatusActive, "attribute_exists(expiryDate)")
	if err != nil {
		return nil, err
	}

	due := make([]domain.Application, 0, len(apps))
	for _, app := range apps {
		if app.ExpiryDate != nil && app.ExpiryDate.Before(before) {
			due = append(due, app)
		}
	}
	return due, nil
}

// scanApplications pages through the table selecting applications in the
// given status.
func (s *DynamoStore) scanApplications(ctx context.Context, status domain.ApplicationStatus, extraFilter string) ([]domain.Application, error) {
	filter := "kind = :kind AND #status = :status"
	if extraFilter != "" {
		filter += " AND " + extraFilter
	}

	var apps []domain.Application
	var start map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                aws.String(s.table),
			FilterExpression:         aws.String(filter),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":kind":   &types.AttributeValueMemberS{Value: KindApplication},
				":status": &types.AttributeValueMemberS{Value: string(status)},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan applications in %s: %w", status, err)
		}

		for _, raw := range out.Items {
			var item applicationItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("unmarshal scanned application: %w", err)
			}
			apps = append(apps, item.Application)
		}

		if len(out.LastEvaluatedKey) == 0 {
			return apps, nil
		}
		start = out.LastEvaluatedKey
	}
}

func itemKey(userID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
		"sk":     &types.AttributeValueMemberS{Value: sk},
	}
}

// isConditionFailed matches the SDK's conditional-check failure.
func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// pageCursor round-trips a query's resume position through an opaque token.
// Only the sort key travels; partition and index keys are rebuilt from the
// query arguments.
type pageCursor struct {
	SK string `json:"sk"`
}

func (c pageCursor) startKey(userID string, status domain.ApplicationStatus) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
		"status": &types.AttributeValueMemberS{Value: string(status)},
		"sk":     &types.AttributeValueMemberS{Value: c.SK},
	}
}

func encodeCursor(lastKey map[string]types.AttributeValue) (string, error) {
	sk, ok := lastKey["sk"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("last evaluated key missing sk")
	}
	return encodeCursorSK(sk.Value)
}

func encodeCursorSK(sk string) (string, error) {
	raw, err := json.Marshal(pageCursor{SK: sk})
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(cursor string) (pageCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return pageCursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	var c pageCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return pageCursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	if c.SK == "" {
		return pageCursor{}, errors.New("decode cursor: empty sort key")
	}
	return c, nil
}
