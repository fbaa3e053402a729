// Package weaviate implements vector.Store on a Weaviate instance. All
// namespaces share one class; a namespace property scopes every write and
// query.
package weaviate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/sitesage/sitesage/internal/vector"
)

// DefaultClass is the Weaviate class holding all fragments.
const DefaultClass = "SiteFragment"

// Store is a Weaviate-backed vector.Store.
type Store struct {
	client *weaviate.Client
	class  string
}

var _ vector.Store = (*Store)(nil)

// New creates a Store for the given class name; empty means DefaultClass.
func New(client *weaviate.Client, class string) *Store {
	if class == "" {
		class = DefaultClass
	}
	return &Store{client: client, class: class}
}

// EnsureSchema creates the fragment class if it does not exist. Vectorizer
// is "none" since embeddings are produced client-side.
func (s *Store) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", s.class, err)
	}
	if exists {
		return nil
	}
	class := &models.Class{
		Class:       s.class,
		Description: "A fragment of an indexed web page",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "namespace", DataType: []string{"string"}},
			{Name: "fragmentKey", DataType: []string{"string"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "url", DataType: []string{"string"}},
			{Name: "title", DataType: []string{"text"}},
			{Name: "ordinal", DataType: []string{"int"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", s.class, err)
	}
	return nil
}

// Upsert writes records in one batch. Object IDs derive deterministically
// from the fragment key, so re-indexing replaces rather than duplicates.
func (s *Store) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	objects := make([]*models.Object, 0, len(records))
	for _, rec := range records {
		objects = append(objects, &models.Object{
			Class: s.class,
			ID:    strfmt.UUID(objectID(namespace, rec.ID)),
			Properties: map[string]interface{}{
				"namespace":   namespace,
				"fragmentKey": rec.ID,
				"content":     rec.Text,
				"url":         rec.URL,
				"title":       rec.Title,
				"ordinal":     rec.Ordinal,
			},
			Vector: models.C11yVector(rec.Vector),
		})
	}
	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch upsert: %w", err)
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch upsert object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Query runs a nearVector search scoped to the namespace.
func (s *Store) Query(ctx context.Context, namespace string, vec []float32, k int) ([]vector.Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	where := filters.Where().
		WithPath([]string{"namespace"}).
		WithOperator(filters.Equal).
		WithValueString(namespace)
	fields := []graphql.Field{
		{Name: "fragmentKey"},
		{Name: "content"},
		{Name: "url"},
		{Name: "title"},
		{Name: "ordinal"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("near vector query: %w", err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("near vector query: %v", res.Errors[0].Message)
	}

	var matches []vector.Match
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	rows, ok := data[s.class].([]interface{})
	if !ok {
		return nil, nil
	}
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		match := vector.Match{}
		if v, ok := props["fragmentKey"].(string); ok {
			match.ID = v
		}
		if v, ok := props["content"].(string); ok {
			match.Text = v
		}
		if v, ok := props["url"].(string); ok {
			match.URL = v
		}
		if v, ok := props["title"].(string); ok {
			match.Title = v
		}
		if v, ok := props["ordinal"].(float64); ok {
			match.Ordinal = int(v)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			switch score := additional["certainty"].(type) {
			case float64:
				match.Score = float32(score)
			case string:
				if f, err := strconv.ParseFloat(score, 64); err == nil {
					match.Score = float32(f)
				}
			}
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// Count aggregates the number of fragments in a namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	where := filters.Where().
		WithPath([]string{"namespace"}).
		WithOperator(filters.Equal).
		WithValueString(namespace)
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithWhere(where).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregate count: %w", err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("aggregate count: %v", res.Errors[0].Message)
	}
	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[s.class].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	props, ok := rows[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := props["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}

// objectID derives a stable UUID for a fragment so batch writes overwrite
// prior versions of the same fragment.
func objectID(namespace, fragmentKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"/"+fragmentKey)).String()
}
