package index

import (
	"context"
	"crypto/tls"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/timmy/kindred/internal/config"
)

// QdrantOptions holds the connection and tuning settings for Qdrant.
type QdrantOptions struct {
	Host       string
	Port       int
	Collection string
	APIKey     string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS     bool
	Dimension  int
	Tuning     Tuning
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Qdrant keeps user taste vectors in a Qdrant collection keyed by numeric user
// id. The collection stores int8 scalar-quantized copies for traversal and
// rescoring uses the original vectors.
type Qdrant struct {
	conn          *grpc.ClientConn
	pointsClient  pb.PointsClient
	collectClient pb.CollectionsClient
	opts          QdrantOptions
}

// NewQdrant dials Qdrant. Supports both local Qdrant (insecure) and Qdrant
// Cloud (TLS + API Key).
func NewQdrant(opts QdrantOptions) (*Qdrant, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	var dialOpts []grpc.DialOption
	if opts.UseTLS || opts.APIKey != "" {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))
		if opts.APIKey != "" {
			dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
		}
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &Qdrant{
		conn:          conn,
		pointsClient:  pb.NewPointsClient(conn),
		collectClient: pb.NewCollectionsClient(conn),
		opts:          opts,
	}, nil
}

func (q *Qdrant) Backend() string { return config.BackendQdrant }

// Close closes the gRPC connection
func (q *Qdrant) Close() error {
	return q.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist and checks the
// vector size if it does.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	info, err := q.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: q.opts.Collection,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(q.opts.Dimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", q.opts.Collection, size, q.opts.Dimension)
		}
		return nil
	}

	alwaysRAM := true
	_, err = q.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: q.opts.Collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.opts.Dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:           optionalUint64(16),
			EfConstruct: optionalUint64(128),
		},
		QuantizationConfig: &pb.QuantizationConfig{
			Quantization: &pb.QuantizationConfig_Scalar{
				Scalar: &pb.ScalarQuantization{
					Type:      pb.QuantizationType_Int8,
					AlwaysRam: &alwaysRAM,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil && single.GetSize() > 0 {
		return single.GetSize(), true
	}
	for _, params := range vectors.GetParamsMap().GetMap() {
		if size := params.GetSize(); size > 0 {
			return size, true
		}
	}
	return 0, false
}

func pointID(id int64) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(id)}}
}

func (q *Qdrant) Upsert(ctx context.Context, id int64, vector []float32) error {
	if len(vector) != q.opts.Dimension {
		return ErrDimensionMismatch
	}

	wait := true
	_, err := q.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.opts.Collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id: pointID(id),
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: vector},
					},
				},
				Payload: map[string]*pb.Value{
					"user_id": {Kind: &pb.Value_IntegerValue{IntegerValue: id}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

func (q *Qdrant) Delete(ctx context.Context, id int64) error {
	wait := true
	_, err := q.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.opts.Collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete point: %w", err)
	}
	return nil
}

// QueryTopK maps search breadth to hnsw_ef and rescore depth to the
// quantization oversampling factor.
func (q *Qdrant) QueryTopK(ctx context.Context, query Query) ([]Neighbor, error) {
	if len(query.Vector) != q.opts.Dimension {
		return nil, ErrDimensionMismatch
	}
	if query.K <= 0 {
		return []Neighbor{}, nil
	}

	t := q.opts.Tuning.For(query.Budget, query.K)
	ef := uint64(t.SearchBreadth)
	rescore := true
	oversampling := float64(t.RescoreDepth) / float64(query.K)
	if oversampling < 1 {
		oversampling = 1
	}

	req := &pb.SearchPoints{
		CollectionName: q.opts.Collection,
		Vector:         query.Vector,
		Limit:          uint64(query.K),
		Params: &pb.SearchParams{
			HnswEf: &ef,
			Quantization: &pb.QuantizationSearchParams{
				Rescore:      &rescore,
				Oversampling: &oversampling,
			},
		},
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: false},
		},
	}
	if query.ExcludeID != 0 {
		req.Filter = &pb.Filter{
			MustNot: []*pb.Condition{
				{
					ConditionOneOf: &pb.Condition_HasId{
						HasId: &pb.HasIdCondition{HasId: []*pb.PointId{pointID(query.ExcludeID)}},
					},
				},
			},
		}
	}

	resp, err := q.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]Neighbor, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		results = append(results, Neighbor{
			ID:         int64(point.GetId().GetNum()),
			Similarity: float64(point.GetScore()),
		})
	}
	sortNeighbors(results)
	return results, nil
}

func (q *Qdrant) Len(ctx context.Context) (int, error) {
	exact := true
	resp, err := q.pointsClient.Count(ctx, &pb.CountPoints{
		CollectionName: q.opts.Collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}
