package session

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// --- fakes ---

type fakeSSM struct {
	params map[string]string
	getErr error
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.params[*in.Name]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: &v}}, nil
}

func (f *fakeSSM) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	if in.Type != ssmtypes.ParameterTypeSecureString {
		return nil, &ssmtypes.InvalidParameters{}
	}
	f.params[*in.Name] = *in.Value
	return &ssm.PutParameterOutput{}, nil
}

func (f *fakeSSM) DeleteParameter(_ context.Context, in *ssm.DeleteParameterInput, _ ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error) {
	if _, ok := f.params[*in.Name]; !ok {
		return nil, &ssmtypes.ParameterNotFound{}
	}
	delete(f.params, *in.Name)
	return &ssm.DeleteParameterOutput{}, nil
}

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
}

func itemKey(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value + "|" + key["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, itemKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

// --- shared contract ---

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok := s.Get(ctx); ok {
		t.Fatal("expected empty store")
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear on empty store: %v", err)
	}
	if err := s.Set(ctx, "tok123"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok := s.Get(ctx)
	if !ok || got != "tok123" {
		t.Fatalf("expected tok123, got %q (ok=%v)", got, ok)
	}
	if err := s.Set(ctx, "tok456"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _ := s.Get(ctx); got != "tok456" {
		t.Errorf("expected overwrite to tok456, got %q", got)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := s.Get(ctx); ok {
		t.Error("expected store to be empty after clear")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	exerciseStore(t, NewFileStore(filepath.Join(t.TempDir(), "nested", "session.json")))
}

func TestSSMStore(t *testing.T) {
	exerciseStore(t, NewSSMStore(&fakeSSM{params: map[string]string{}}, ""))
}

func TestDynamoStore(t *testing.T) {
	exerciseStore(t, NewDynamoStore(&fakeDynamo{items: map[string]map[string]types.AttributeValue{}}, "sessions", "me"))
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	if err := NewFileStore(path).Set(ctx, "persisted"); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok := NewFileStore(path).Get(ctx)
	if !ok || got != "persisted" {
		t.Fatalf("expected credential to survive reopen, got %q (ok=%v)", got, ok)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		t.Errorf("session file should be owner-only, got %04o", mode)
	}
}

func TestFileStoreCorruptFileIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewFileStore(path)
	if _, ok := s.Get(context.Background()); ok {
		t.Error("corrupt session file should read as absent")
	}
	if err := s.Clear(context.Background()); err != nil {
		t.Errorf("clear should remove a corrupt file: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected corrupt file to be removed")
	}
}

func TestSSMStoreUnavailableIsAbsent(t *testing.T) {
	s := NewSSMStore(&fakeSSM{getErr: &ssmtypes.InternalServerError{}}, "/p")
	if _, ok := s.Get(context.Background()); ok {
		t.Error("SSM errors should read as absent")
	}
}

func TestDynamoStoreExpiredIsAbsent(t *testing.T) {
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	s := NewDynamoStore(fake, "sessions", "me")
	if err := s.Set(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	item := fake.items["SESSION#me|CREDENTIAL"]
	past := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	item["expiresAt"] = &types.AttributeValueMemberN{Value: past}

	if _, ok := s.Get(context.Background()); ok {
		t.Error("expired item should read as absent")
	}
}

func TestValidateBackend(t *testing.T) {
	for _, name := range []string{"file", "SSM", "dynamo", "memory"} {
		if err := ValidateBackend(name); err != nil {
			t.Errorf("ValidateBackend(%q) = %v", name, err)
		}
	}
	if err := ValidateBackend("redis"); err == nil {
		t.Error("expected error for unknown backend")
	}
}
