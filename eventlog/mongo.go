package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentcore/runtime/internal/ids"
)

const (
	defaultCollection = "agent_run_events"
	defaultTimeout    = 5 * time.Second
)

// MongoOptions configures MongoStore.
type MongoOptions struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
	Config     Config
}

type eventDocument struct {
	RunID     string    `bson:"run_id"`
	AgentID   string    `bson:"agent_id"`
	TurnID    string    `bson:"turn_id"`
	Seq       int64     `bson:"seq"`
	Type      string    `bson:"type"`
	Payload   []byte    `bson:"payload"`
	Timestamp time.Time `bson:"timestamp"`
}

// MongoStore implements Store on top of a MongoDB collection. Sequence
// numbers are allocated by a findOneAndUpdate counter document rather than
// relying on insertion order, so Append is safe under concurrent callers
// appending to the same run.
type MongoStore struct {
	coll    *mongodriver.Collection
	seqColl *mongodriver.Collection
	timeout time.Duration
	cfg     Config
}

// NewMongoStore builds a Mongo-backed event log and ensures its indexes
// exist.
func NewMongoStore(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if opts.Client == nil {
		return nil, errors.New("eventlog: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("eventlog: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	coll := db.Collection(collName)
	seqColl := db.Collection(collName + "_seq")

	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	index := mongodriver.IndexModel{Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "seq", Value: 1}}}
	if _, err := coll.Indexes().CreateOne(ictx, index); err != nil {
		return nil, fmt.Errorf("eventlog: ensure index: %w", err)
	}

	return &MongoStore{coll: coll, seqColl: seqColl, timeout: timeout, cfg: opts.Config}, nil
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// nextSeq atomically increments and returns the next sequence number for
// runID using a dedicated counter document.
func (s *MongoStore) nextSeq(ctx context.Context, runID ids.RunID) (int64, error) {
	filter := bson.M{"_id": string(runID)}
	update := bson.M{"$inc": bson.M{"seq": int64(1)}}
	opt := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := s.seqColl.FindOneAndUpdate(ctx, filter, update, opt).Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

// Append implements Store.
func (s *MongoStore) Append(ctx context.Context, runID ids.RunID, agentID ids.AgentID, turnID ids.TurnID, typ EventType, payload any) (Event, error) {
	if runID == "" {
		return Event{}, errors.New("eventlog: run_id is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	if err := s.cfg.checkSize(raw); err != nil {
		return Event{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	seq, err := s.nextSeq(ctx, runID)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: allocate seq: %w", err)
	}

	ts := time.Now().UTC()
	doc := eventDocument{
		RunID:     string(runID),
		AgentID:   string(agentID),
		TurnID:    string(turnID),
		Seq:       seq,
		Type:      string(typ),
		Payload:   append([]byte(nil), raw...),
		Timestamp: ts,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return Event{}, fmt.Errorf("eventlog: insert: %w", err)
	}

	return Event{
		Seq: seq, RunID: runID, AgentID: agentID, TurnID: turnID,
		Type: typ, Payload: raw, Timestamp: ts,
	}, nil
}

// Events implements Store by issuing a single bounded query up front and
// streaming decoded documents through the returned iterator; the query is
// not reissued, so events appended after the call started are not observed.
func (s *MongoStore) Events(ctx context.Context, runID ids.RunID, sinceSeq int64) (func(yield func(Event, error) bool), error) {
	ctx, cancel := s.withTimeout(ctx)
	filter := bson.M{"run_id": string(runID), "seq": bson.M{"$gt": sinceSeq}}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("eventlog: find: %w", err)
	}

	return func(yield func(Event, error) bool) {
		defer cancel()
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var doc eventDocument
			if err := cur.Decode(&doc); err != nil {
				yield(Event{}, err)
				return
			}
			e := Event{
				Seq:       doc.Seq,
				RunID:     ids.RunID(doc.RunID),
				AgentID:   ids.AgentID(doc.AgentID),
				TurnID:    ids.TurnID(doc.TurnID),
				Type:      EventType(doc.Type),
				Payload:   append([]byte(nil), doc.Payload...),
				Timestamp: doc.Timestamp,
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(Event{}, err)
		}
	}, nil
}

// Snapshot implements Store.
func (s *MongoStore) Snapshot(ctx context.Context, runID ids.RunID) (UIState, error) {
	var events []Event
	seq, err := s.Events(ctx, runID, 0)
	if err != nil {
		return UIState{}, err
	}
	var iterErr error
	seq(func(e Event, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}
		events = append(events, e)
		return true
	})
	if iterErr != nil {
		return UIState{}, iterErr
	}
	return Reduce(string(runID), events), nil
}
