// Package dynamo stores carrier mapping configuration in a single DynamoDB
// table.
//
// Every item for a carrier lives under PK "INSURER#<id>":
//
//	SK "PROFILE"                the carrier itself
//	SK "MAPPING"                the mapping header and its ActiveVersion
//	SK "RULE#<ver>#<pos>"       commission-side rules of one version
//	SK "DELINQ#<ver>#<pos>"     delinquency rules of one version
//
// A save writes the next version's rules, flips ActiveVersion on the header
// and deletes the version before the previous one in one TransactWriteItems
// call. The previous version stays readable until the following save, so a
// reader that loaded the old header can still finish querying its rules;
// LoadConfig re-reads the header afterwards and retries if that guarantee no
// longer holds.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/ignite/carrier-mapping/internal/domain"
	"github.com/ignite/carrier-mapping/internal/service/mappings"
)

// maxTransactItems is DynamoDB's per-transaction operation limit.
const maxTransactItems = 100

// maxReadAttempts bounds LoadConfig retries while saves keep landing.
const maxReadAttempts = 3

const (
	skProfile = "PROFILE"
	skMapping = "MAPPING"
)

// Client is the subset of the DynamoDB API the repository uses.
type Client interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// MappingRepo implements mappings.Repository on DynamoDB.
type MappingRepo struct {
	client    Client
	tableName string
	now       func() time.Time
}

type insurerItem struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	ID     string `dynamodbav:"ID"`
	Name   string `dynamodbav:"Name"`
	Active bool   `dynamodbav:"Active"`
}

type mappingItem struct {
	PK                 string `dynamodbav:"PK"`
	SK                 string `dynamodbav:"SK"`
	PolicyStrategy     string `dynamodbav:"PolicyStrategy,omitempty"`
	InsuredStrategy    string `dynamodbav:"InsuredStrategy,omitempty"`
	CommissionStrategy string `dynamodbav:"CommissionStrategy,omitempty"`
	Options            string `dynamodbav:"Options"`
	Active             bool   `dynamodbav:"Active"`
	ActiveVersion      int    `dynamodbav:"ActiveVersion"`
	CreatedAt          string `dynamodbav:"CreatedAt"`
	UpdatedAt          string `dynamodbav:"UpdatedAt"`
}

type ruleItem struct {
	PK          string   `dynamodbav:"PK"`
	SK          string   `dynamodbav:"SK"`
	TargetField string   `dynamodbav:"TargetField"`
	Aliases     []string `dynamodbav:"Aliases"`
	Strategy    string   `dynamodbav:"Strategy,omitempty"`
	Notes       string   `dynamodbav:"Notes,omitempty"`
	Version     int      `dynamodbav:"Version"`
	Position    int      `dynamodbav:"Position"`
}

// New loads AWS configuration and returns a repository for tableName.
func New(ctx context.Context, tableName, region, profile string) (*MappingRepo, error) {
	var cfg aws.Config
	var err error

	if profile != "" {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithSharedConfigProfile(profile),
		)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewWithClient(dynamodb.NewFromConfig(cfg), tableName), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client, tableName string) *MappingRepo {
	return &MappingRepo{client: client, tableName: tableName, now: time.Now}
}

func insurerPK(id string) string { return "INSURER#" + id }

func rulePrefix(version int) string { return fmt.Sprintf("RULE#%06d#", version) }

func delinquencyPrefix(version int) string { return fmt.Sprintf("DELINQ#%06d#", version) }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (r *MappingRepo) getItem(ctx context.Context, pk, sk string, out any) (bool, error) {
	res, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("getting item from DynamoDB: %w", err)
	}
	if res.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshaling %s item: %w", sk, err)
	}
	return true, nil
}

func (r *MappingRepo) GetInsurer(ctx context.Context, id string) (*domain.Insurer, error) {
	var item insurerItem
	found, err := r.getItem(ctx, insurerPK(id), skProfile, &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, mappings.ErrInsurerNotFound
	}
	return &domain.Insurer{ID: item.ID, Name: item.Name, Active: item.Active}, nil
}

func (r *MappingRepo) ListInsurers(ctx context.Context, activeOnly bool) ([]domain.Insurer, error) {
	filter := "SK = :sk"
	values := map[string]types.AttributeValue{
		":sk": &types.AttributeValueMemberS{Value: skProfile},
	}
	if activeOnly {
		filter += " AND Active = :active"
		values[":active"] = &types.AttributeValueMemberBOOL{Value: true}
	}

	var out []domain.Insurer
	var startKey map[string]types.AttributeValue
	for {
		res, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.tableName),
			FilterExpression:          aws.String(filter),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning insurers: %w", err)
		}
		for _, raw := range res.Items {
			var item insurerItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("unmarshaling insurer: %w", err)
			}
			out = append(out, domain.Insurer{ID: item.ID, Name: item.Name, Active: item.Active})
		}
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		startKey = res.LastEvaluatedKey
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MappingRepo) header(ctx context.Context, insurerID string) (*mappingItem, error) {
	var item mappingItem
	found, err := r.getItem(ctx, insurerPK(insurerID), skMapping, &item)
	if err != nil || !found {
		return nil, err
	}
	return &item, nil
}

func (r *MappingRepo) GetMapping(ctx context.Context, insurerID string) (*domain.InsurerMapping, error) {
	item, err := r.header(ctx, insurerID)
	if err != nil || item == nil {
		return nil, err
	}
	return toMapping(insurerID, item)
}

func toMapping(insurerID string, item *mappingItem) (*domain.InsurerMapping, error) {
	m := &domain.InsurerMapping{
		InsurerID:          insurerID,
		PolicyStrategy:     domain.Strategy(item.PolicyStrategy),
		InsuredStrategy:    domain.Strategy(item.InsuredStrategy),
		CommissionStrategy: domain.Strategy(item.CommissionStrategy),
		Active:             item.Active,
	}
	if item.Options != "" {
		if err := json.Unmarshal([]byte(item.Options), &m.Options); err != nil {
			return nil, fmt.Errorf("decode options for insurer %s: %w", insurerID, err)
		}
	}
	if item.CreatedAt != "" {
		var err error
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, item.CreatedAt); err != nil {
			return nil, fmt.Errorf("parse created_at for insurer %s: %w", insurerID, err)
		}
	}
	return m, nil
}

func (r *MappingRepo) queryPrefix(ctx context.Context, pk, prefix string) ([]ruleItem, error) {
	var out []ruleItem
	var startKey map[string]types.AttributeValue
	for {
		res, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: pk},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("querying DynamoDB: %w", err)
		}
		for _, raw := range res.Items {
			var item ruleItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("unmarshaling rule: %w", err)
			}
			out = append(out, item)
		}
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		startKey = res.LastEvaluatedKey
	}
	return out, nil
}

func aliasList(a []string) domain.AliasList {
	if a == nil {
		return domain.AliasList{}
	}
	return domain.AliasList(a)
}

// LoadConfig reads the header and both rule sets of one version. The header
// is read again after the rule queries; if two or more saves committed in
// between, the version read may have been deleted and the read is retried.
func (r *MappingRepo) LoadConfig(ctx context.Context, insurerID string) (*domain.InsurerMapping, []domain.MappingRule, []domain.DelinquencyRule, error) {
	pk := insurerPK(insurerID)
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		h, err := r.header(ctx, insurerID)
		if err != nil || h == nil {
			return nil, nil, nil, err
		}
		ruleItems, err := r.queryPrefix(ctx, pk, rulePrefix(h.ActiveVersion))
		if err != nil {
			return nil, nil, nil, err
		}
		delinquencyItems, err := r.queryPrefix(ctx, pk, delinquencyPrefix(h.ActiveVersion))
		if err != nil {
			return nil, nil, nil, err
		}
		after, err := r.header(ctx, insurerID)
		if err != nil {
			return nil, nil, nil, err
		}
		if after != nil && after.ActiveVersion > h.ActiveVersion+1 {
			continue
		}

		mapping, err := toMapping(insurerID, h)
		if err != nil {
			return nil, nil, nil, err
		}
		return mapping, toRules(insurerID, ruleItems), toDelinquencyRules(insurerID, delinquencyItems), nil
	}
	return nil, nil, nil, fmt.Errorf("mapping for insurer %s kept changing during read", insurerID)
}

func toRules(insurerID string, items []ruleItem) []domain.MappingRule {
	out := make([]domain.MappingRule, 0, len(items))
	for _, it := range items {
		out = append(out, domain.MappingRule{
			InsurerID:   insurerID,
			TargetField: domain.TargetField(it.TargetField),
			Aliases:     aliasList(it.Aliases),
			Strategy:    domain.Strategy(it.Strategy),
			Notes:       it.Notes,
		})
	}
	return out
}

func toDelinquencyRules(insurerID string, items []ruleItem) []domain.DelinquencyRule {
	out := make([]domain.DelinquencyRule, 0, len(items))
	for _, it := range items {
		out = append(out, domain.DelinquencyRule{
			InsurerID:   insurerID,
			TargetField: domain.DelinquencyTarget(it.TargetField),
			Aliases:     aliasList(it.Aliases),
		})
	}
	return out
}

func (r *MappingRepo) ListRules(ctx context.Context, insurerID string) ([]domain.MappingRule, error) {
	_, rules, _, err := r.LoadConfig(ctx, insurerID)
	return rules, err
}

func (r *MappingRepo) ListDelinquencyRules(ctx context.Context, insurerID string) ([]domain.DelinquencyRule, error) {
	_, _, delinquency, err := r.LoadConfig(ctx, insurerID)
	return delinquency, err
}

// SaveBundle writes the next rule version and switches the header to it.
// A concurrent writer that bumped the version first makes this save fail
// with mappings.ErrSaveInProgress.
func (r *MappingRepo) SaveBundle(ctx context.Context, insurerID string, b mappings.StoredBundle) error {
	pk := insurerPK(insurerID)

	prev, err := r.header(ctx, insurerID)
	if err != nil {
		return err
	}
	prevVersion := 0
	if prev != nil {
		prevVersion = prev.ActiveVersion
	}
	version := prevVersion + 1

	// prevVersion stays for readers still on it; the one before goes.
	var stale []ruleItem
	if staleVersion := prevVersion - 1; staleVersion >= 1 {
		rules, err := r.queryPrefix(ctx, pk, rulePrefix(staleVersion))
		if err != nil {
			return err
		}
		delinquency, err := r.queryPrefix(ctx, pk, delinquencyPrefix(staleVersion))
		if err != nil {
			return err
		}
		stale = append(rules, delinquency...)
	}

	ops := len(b.Rules) + len(b.Delinquency) + len(stale) + 1
	if ops > maxTransactItems {
		return fmt.Errorf("%d write operations: %w", ops, mappings.ErrBundleTooLarge)
	}

	options, err := json.Marshal(b.Mapping.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	now := r.now().UTC()
	createdAt := b.Mapping.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	items := make([]types.TransactWriteItem, 0, ops)
	put := func(v any) error {
		av, err := attributevalue.MarshalMap(v)
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(r.tableName), Item: av},
		})
		return nil
	}

	for i, rule := range b.Rules {
		if err := put(ruleItem{
			PK:          pk,
			SK:          fmt.Sprintf("%s%03d", rulePrefix(version), i),
			TargetField: string(rule.TargetField),
			Aliases:     []string(aliasList(rule.Aliases)),
			Strategy:    string(rule.Strategy),
			Notes:       rule.Notes,
			Version:     version,
			Position:    i,
		}); err != nil {
			return err
		}
	}
	for i, rule := range b.Delinquency {
		if err := put(ruleItem{
			PK:          pk,
			SK:          fmt.Sprintf("%s%03d", delinquencyPrefix(version), i),
			TargetField: string(rule.TargetField),
			Aliases:     []string(aliasList(rule.Aliases)),
			Version:     version,
			Position:    i,
		}); err != nil {
			return err
		}
	}

	header, err := attributevalue.MarshalMap(mappingItem{
		PK:                 pk,
		SK:                 skMapping,
		PolicyStrategy:     string(b.Mapping.PolicyStrategy),
		InsuredStrategy:    string(b.Mapping.InsuredStrategy),
		CommissionStrategy: string(b.Mapping.CommissionStrategy),
		Options:            string(options),
		Active:             b.Mapping.Active,
		ActiveVersion:      version,
		CreatedAt:          createdAt.Format(time.RFC3339Nano),
		UpdatedAt:          now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshaling mapping header: %w", err)
	}
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                header,
			ConditionExpression: aws.String("attribute_not_exists(SK) OR ActiveVersion = :prev"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prev": &types.AttributeValueMemberN{Value: strconv.Itoa(prevVersion)},
			},
		},
	})

	for _, it := range stale {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{TableName: aws.String(r.tableName), Key: key(it.PK, it.SK)},
		})
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		return fmt.Errorf("version %d superseded: %w", prevVersion, mappings.ErrSaveInProgress)
	}
	if err != nil {
		return fmt.Errorf("writing mapping bundle: %w", err)
	}
	return nil
}

// CreateInsurer registers a carrier.
func (r *MappingRepo) CreateInsurer(ctx context.Context, name string) (*domain.Insurer, error) {
	ins := &domain.Insurer{ID: uuid.New().String(), Name: name, Active: true}
	av, err := attributevalue.MarshalMap(insurerItem{
		PK:     insurerPK(ins.ID),
		SK:     skProfile,
		ID:     ins.ID,
		Name:   ins.Name,
		Active: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling insurer: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return nil, fmt.Errorf("putting insurer to DynamoDB: %w", err)
	}
	return ins, nil
}
