// Package qdrant registers the "qdrant" server-mode Vector Store backend:
// a gRPC client against a real Qdrant cluster.
package qdrant

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	"github.com/bao243092078-crypto/memory-anchor/internal/kernelerr"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

func init() {
	registryvector.Register(registryvector.Plugin{Name: "qdrant", Loader: load})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.VectorURL == "" {
		return nil, fmt.Errorf("qdrant: vector.url is required")
	}
	conn, err := grpc.NewClient(cfg.VectorURL, dialOptions(cfg)...)
	if err != nil {
		return nil, &kernelerr.StorageUnavailable{Backend: "qdrant", Cause: err}
	}
	return &Store{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		conn:        conn,
	}, nil
}

// Store implements registryvector.VectorStore against a Qdrant cluster.
type Store struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	conn        *grpc.ClientConn
}

func (s *Store) Name() string { return "qdrant" }

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "qdrant", Cause: err}
	}
	return nil
}

func (s *Store) EnsureCollection(ctx context.Context, name string, dim int) error {
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		existing := int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		if existing != 0 && existing != dim {
			return &kernelerr.DimensionMismatch{Got: dim, Want: existing}
		}
		return nil
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "qdrant", Cause: fmt.Errorf("create collection %s: %w", name, err)}
	}
	log.Info("qdrant: created collection", "name", name, "dim", dim)
	return nil
}

func (s *Store) Upsert(ctx context.Context, name string, p registryvector.Point) error {
	errs := s.BatchUpsert(ctx, name, []registryvector.Point{p})
	if len(errs) > 0 {
		return errs[0].Err
	}
	return nil
}

func (s *Store) BatchUpsert(ctx context.Context, name string, points []registryvector.Point) []registryvector.PointError {
	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		pbPoints[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID.String()}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payloadToValues(p.Payload),
		}
	}
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{CollectionName: name, Points: pbPoints})
	if err != nil {
		out := make([]registryvector.PointError, len(points))
		for i, p := range points {
			out[i] = registryvector.PointError{ID: p.ID, Err: &kernelerr.StorageUnavailable{Backend: "qdrant", Cause: err}}
		}
		return out
	}
	return nil
}

func (s *Store) Search(ctx context.Context, name string, queryVector []float32, k int, filter registryvector.Filter) ([]registryvector.SearchHit, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: name,
		Vector:         queryVector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter:         compileFilter(filter),
	})
	if err != nil {
		return nil, &kernelerr.StorageUnavailable{Backend: "qdrant", Cause: err}
	}
	hits := make([]registryvector.SearchHit, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		id, err := uuid.Parse(pt.GetId().GetUuid())
		if err != nil {
			continue
		}
		hits = append(hits, registryvector.SearchHit{
			ID:      id,
			Score:   float64(pt.GetScore()),
			Payload: valuesToPayload(pt.GetPayload()),
		})
	}
	return hits, nil
}

func (s *Store) Scroll(ctx context.Context, name string, filter registryvector.Filter, cursor string, pageSize int) (registryvector.ScrollPage, error) {
	req := &pb.ScrollPoints{
		CollectionName: name,
		Filter:         compileFilter(filter),
		Limit:          ptrUint32(uint32(pageSize)),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	}
	if cursor != "" {
		if id, err := uuid.Parse(cursor); err == nil {
			req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
		}
	}
	resp, err := s.points.Scroll(ctx, req)
	if err != nil {
		return registryvector.ScrollPage{}, &kernelerr.StorageUnavailable{Backend: "qdrant", Cause: err}
	}
	page := registryvector.ScrollPage{}
	for _, pt := range resp.GetResult() {
		id, err := uuid.Parse(pt.GetId().GetUuid())
		if err != nil {
			continue
		}
		page.Points = append(page.Points, registryvector.Point{
			ID:      id,
			Vector:  pt.GetVectors().GetVector().GetData(),
			Payload: valuesToPayload(pt.GetPayload()),
		})
	}
	if next := resp.GetNextPageOffset(); next != nil {
		page.Cursor = next.GetUuid()
	}
	return page, nil
}

func (s *Store) Get(ctx context.Context, name string, id uuid.UUID) (registryvector.Point, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: name,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return registryvector.Point{}, &kernelerr.StorageUnavailable{Backend: "qdrant", Cause: err}
	}
	if len(resp.GetResult()) == 0 {
		return registryvector.Point{}, registryvector.ErrPointNotFound
	}
	pt := resp.GetResult()[0]
	return registryvector.Point{
		ID:      id,
		Vector:  pt.GetVectors().GetVector().GetData(),
		Payload: valuesToPayload(pt.GetPayload()),
	}, nil
}

func (s *Store) UpdatePayload(ctx context.Context, name string, id uuid.UUID, partial map[string]interface{}) error {
	values := map[string]*pb.Value{}
	for k, v := range partial {
		if k == "related_files" {
			values[k] = relatedFilesValue(v)
			continue
		}
		values[k] = toValue(v)
	}
	_, err := s.points.SetPayload(ctx, &pb.SetPayloadPoints{
		CollectionName: name,
		Payload:        values,
		PointsSelector: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}}},
			},
		},
	})
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "qdrant", Cause: err}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string, id uuid.UUID) error {
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: name,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}}},
			},
		},
	})
	if err != nil {
		return &kernelerr.StorageUnavailable{Backend: "qdrant", Cause: err}
	}
	return nil
}

func dialOptions(cfg *config.Config) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if cfg.QdrantUseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if cfg.QdrantAPIKey != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{apiKey: cfg.QdrantAPIKey, requireTLS: cfg.QdrantUseTLS}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool { return a.requireTLS }

func ptrUint32(v uint32) *uint32 { return &v }

var _ registryvector.VectorStore = (*Store)(nil)
