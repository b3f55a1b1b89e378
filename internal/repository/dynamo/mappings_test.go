package dynamo

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/carrier-mapping/internal/domain"
	"github.com/ignite/carrier-mapping/internal/service/mappings"
)

// fakeTable evaluates the handful of expressions MappingRepo issues.
type fakeTable struct {
	mu         sync.Mutex
	items      map[string]map[string]types.AttributeValue
	transacts  int
	lastOps    int
	bumpBefore func(t *fakeTable)
	onQuery    func(t *fakeTable)
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string]map[string]types.AttributeValue)}
}

func str(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	return str(item["PK"]) + "|" + str(item["SK"])
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := itemKey(in.Item)
	if in.ConditionExpression != nil && f.items[k] != nil {
		return nil, &types.ConditionalCheckFailedException{}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) sortedKeys() []string {
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeTable) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if hook := f.onQuery; hook != nil {
		f.onQuery = nil
		hook(f)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := str(in.ExpressionAttributeValues[":pk"])
	prefix := str(in.ExpressionAttributeValues[":prefix"])
	out := &dynamodb.QueryOutput{}
	for _, k := range f.sortedKeys() {
		item := f.items[k]
		if str(item["PK"]) == pk && strings.HasPrefix(str(item["SK"]), prefix) {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

func (f *fakeTable) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sk := str(in.ExpressionAttributeValues[":sk"])
	_, activeOnly := in.ExpressionAttributeValues[":active"]
	out := &dynamodb.ScanOutput{}
	for _, k := range f.sortedKeys() {
		item := f.items[k]
		if str(item["SK"]) != sk {
			continue
		}
		if activeOnly {
			if b, ok := item["Active"].(*types.AttributeValueMemberBOOL); !ok || !b.Value {
				continue
			}
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (f *fakeTable) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if f.bumpBefore != nil {
		f.bumpBefore(f)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transacts++
	f.lastOps = len(in.TransactItems)

	for _, op := range in.TransactItems {
		if op.Put == nil || op.Put.ConditionExpression == nil {
			continue
		}
		existing := f.items[itemKey(op.Put.Item)]
		if existing == nil {
			continue
		}
		if str(existing["ActiveVersion"]) != str(op.Put.ExpressionAttributeValues[":prev"]) {
			return nil, &types.TransactionCanceledException{}
		}
	}
	for _, op := range in.TransactItems {
		switch {
		case op.Put != nil:
			f.items[itemKey(op.Put.Item)] = op.Put.Item
		case op.Delete != nil:
			delete(f.items, itemKey(op.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeTable) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if strings.HasPrefix(str(item["SK"]), prefix) {
			n++
		}
	}
	return n
}

func newTestRepo(t *testing.T) (*MappingRepo, *fakeTable) {
	t.Helper()
	table := newFakeTable()
	repo := NewWithClient(table, "carrier-mappings")
	repo.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return repo, table
}

func TestInsurers(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	mapfre, err := repo.CreateInsurer(ctx, "MAPFRE")
	require.NoError(t, err)
	assa, err := repo.CreateInsurer(ctx, "ASSA")
	require.NoError(t, err)

	got, err := repo.GetInsurer(ctx, assa.ID)
	require.NoError(t, err)
	assert.Equal(t, *assa, *got)

	_, err = repo.GetInsurer(ctx, "ghost")
	assert.True(t, errors.Is(err, mappings.ErrInsurerNotFound))

	list, err := repo.ListInsurers(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ASSA", list[0].Name)
	assert.Equal(t, mapfre.ID, list[1].ID)
}

func TestGetMappingAbsent(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	m, err := repo.GetMapping(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, m)

	rules, err := repo.ListRules(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func bundle(rules ...domain.MappingRule) mappings.StoredBundle {
	return mappings.StoredBundle{
		Mapping: domain.InsurerMapping{
			PolicyStrategy:     domain.StrategyMixedToken,
			InsuredStrategy:    domain.StrategyByAlias,
			CommissionStrategy: domain.StrategyFirstNonZero,
			Options:            domain.MappingOptions{CommissionGroups: [][]string{{"Monto", "Comision"}}},
			Active:             true,
			CreatedAt:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Rules: rules,
		Delinquency: []domain.DelinquencyRule{
			{TargetField: domain.DelinqBalance, Aliases: domain.AliasList{"Saldo"}},
		},
	}
}

func TestSaveBundleRoundTrip(t *testing.T) {
	repo, table := newTestRepo(t)
	ctx := context.Background()

	err := repo.SaveBundle(ctx, "ins-1", bundle(
		domain.MappingRule{TargetField: domain.FieldPolicy, Aliases: domain.AliasList{"Poliza", "No. Poliza"}, Strategy: domain.StrategyMixedToken},
		domain.MappingRule{TargetField: domain.FieldStatus, Aliases: domain.AliasList{}, Strategy: domain.StrategyByAlias, Notes: "unused"},
	))
	require.NoError(t, err)

	m, err := repo.GetMapping(ctx, "ins-1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, domain.StrategyMixedToken, m.PolicyStrategy)
	assert.Equal(t, [][]string{{"Monto", "Comision"}}, m.Options.CommissionGroups)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), m.CreatedAt)
	assert.True(t, m.Active)

	rules, err := repo.ListRules(ctx, "ins-1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, domain.FieldPolicy, rules[0].TargetField)
	assert.Equal(t, domain.AliasList{"Poliza", "No. Poliza"}, rules[0].Aliases)
	assert.Equal(t, domain.AliasList{}, rules[1].Aliases)
	assert.Equal(t, "unused", rules[1].Notes)

	delinquency, err := repo.ListDelinquencyRules(ctx, "ins-1")
	require.NoError(t, err)
	require.Len(t, delinquency, 1)
	assert.Equal(t, domain.DelinqBalance, delinquency[0].TargetField)

	assert.Equal(t, 1, table.transacts)
}

func TestSaveBundleReplacesPreviousVersion(t *testing.T) {
	repo, table := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveBundle(ctx, "ins-1", bundle(
		domain.MappingRule{TargetField: domain.FieldPolicy, Aliases: domain.AliasList{"Poliza"}},
		domain.MappingRule{TargetField: domain.FieldInsured, Aliases: domain.AliasList{"Asegurado"}},
	)))
	require.NoError(t, repo.SaveBundle(ctx, "ins-1", bundle(
		domain.MappingRule{TargetField: domain.FieldCommission, Aliases: domain.AliasList{"Comision"}},
	)))

	rules, err := repo.ListRules(ctx, "ins-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, domain.FieldCommission, rules[0].TargetField)
	assert.Equal(t, 2, table.count("RULE#000001#"), "previous version kept for in-flight readers")

	require.NoError(t, repo.SaveBundle(ctx, "ins-1", bundle(
		domain.MappingRule{TargetField: domain.FieldStatus, Aliases: domain.AliasList{"Estado"}},
	)))
	assert.Zero(t, table.count("RULE#000001#"), "version before the previous one deleted")
	assert.Equal(t, 1, table.count("RULE#000002#"))
	assert.Equal(t, 1, table.count("RULE#000003#"))
	assert.Equal(t, 2, table.count("DELINQ#"))
}

func TestLoadConfigDuringSave(t *testing.T) {
	repo, table := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveBundle(ctx, "ins-1", bundle(
		domain.MappingRule{TargetField: domain.FieldPolicy, Aliases: domain.AliasList{"Poliza"}},
	)))
	require.NoError(t, repo.SaveBundle(ctx, "ins-1", bundle(
		domain.MappingRule{TargetField: domain.FieldPolicy, Aliases: domain.AliasList{"Poliza v2"}},
	)))

	// A save commits between the reader's header read and its rule query.
	writer := NewWithClient(table, "carrier-mappings")
	table.onQuery = func(*fakeTable) {
		require.NoError(t, writer.SaveBundle(ctx, "ins-1", bundle(
			domain.MappingRule{TargetField: domain.FieldPolicy, Aliases: domain.AliasList{"Poliza v3"}},
		)))
	}

	header, rules, delinquency, err := repo.LoadConfig(ctx, "ins-1")
	require.NoError(t, err)
	require.NotNil(t, header)
	require.Len(t, rules, 1, "reader keeps the version its header named")
	assert.Equal(t, domain.AliasList{"Poliza v2"}, rules[0].Aliases)
	assert.Len(t, delinquency, 1)

	rules, err = repo.ListRules(ctx, "ins-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, domain.AliasList{"Poliza v3"}, rules[0].Aliases)
}

func TestLoadConfigRetriesWhenVersionDeleted(t *testing.T) {
	repo, table := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveBundle(ctx, "ins-1", bundle(
		domain.MappingRule{TargetField: domain.FieldPolicy, Aliases: domain.AliasList{"Poliza"}},
	)))

	// Two saves land mid-read, so the version the reader started on is gone.
	writer := NewWithClient(table, "carrier-mappings")
	table.onQuery = func(*fakeTable) {
		for _, alias := range []string{"Poliza v2", "Poliza v3"} {
			require.NoError(t, writer.SaveBundle(ctx, "ins-1", bundle(
				domain.MappingRule{TargetField: domain.FieldPolicy, Aliases: domain.AliasList{alias}},
			)))
		}
	}

	_, rules, _, err := repo.LoadConfig(ctx, "ins-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, domain.AliasList{"Poliza v3"}, rules[0].Aliases)
}

func TestSaveBundleConcurrentWriter(t *testing.T) {
	repo, table := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.SaveBundle(ctx, "ins-1", bundle()))

	other := NewWithClient(table, "carrier-mappings")
	table.bumpBefore = func(f *fakeTable) {
		f.bumpBefore = nil
		require.NoError(t, other.SaveBundle(ctx, "ins-1", bundle()))
	}

	err := repo.SaveBundle(ctx, "ins-1", bundle())
	assert.True(t, errors.Is(err, mappings.ErrSaveInProgress), "got %v", err)
}

func TestSaveBundleTooLarge(t *testing.T) {
	repo, table := newTestRepo(t)

	rules := make([]domain.MappingRule, maxTransactItems)
	for i := range rules {
		rules[i] = domain.MappingRule{TargetField: domain.FieldPolicy, Aliases: domain.AliasList{"Poliza"}}
	}
	err := repo.SaveBundle(context.Background(), "ins-1", bundle(rules...))
	assert.True(t, errors.Is(err, mappings.ErrBundleTooLarge))
	assert.Zero(t, table.transacts)
}
