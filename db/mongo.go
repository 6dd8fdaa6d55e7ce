package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tremorwatch/models"
)

const baselineDocumentID = "baseline"

type MongoClient struct {
	client *mongo.Client
	dbName string
}

type baselineDocument struct {
	ID       string                  `bson:"_id"`
	Snapshot models.BaselineSnapshot `bson:",inline"`
}

type recordDocument struct {
	ID     string              `bson:"_id"`
	Record models.TremorRecord `bson:",inline"`
}

func NewMongoClient(uri, dbName string) (*MongoClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging MongoDB: %w", err)
	}

	return &MongoClient{client: client, dbName: dbName}, nil
}

func (db *MongoClient) Close() error {
	if db.client != nil {
		return db.client.Disconnect(context.Background())
	}
	return nil
}

func (db *MongoClient) collection(name string) *mongo.Collection {
	return db.client.Database(db.dbName).Collection(name)
}

func (db *MongoClient) SaveBaseline(snapshot models.BaselineSnapshot) error {
	if snapshot.SavedAt.IsZero() {
		snapshot.SavedAt = time.Now().UTC()
	}
	doc := baselineDocument{ID: baselineDocumentID, Snapshot: snapshot}
	_, err := db.collection("baseline").ReplaceOne(
		context.Background(),
		bson.M{"_id": baselineDocumentID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("error storing baseline: %w", err)
	}
	return nil
}

func (db *MongoClient) LoadBaseline() (models.BaselineSnapshot, bool, error) {
	var doc baselineDocument
	err := db.collection("baseline").FindOne(context.Background(), bson.M{"_id": baselineDocumentID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.BaselineSnapshot{}, false, nil
		}
		return models.BaselineSnapshot{}, false, fmt.Errorf("failed to retrieve baseline: %w", err)
	}
	return doc.Snapshot, true, nil
}

func (db *MongoClient) StoreRecords(records []models.TremorRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = recordDocument{ID: r.ID, Record: r}
	}
	if _, err := db.collection("tremor_records").InsertMany(context.Background(), docs); err != nil {
		return fmt.Errorf("error inserting records: %w", err)
	}
	return nil
}

func (db *MongoClient) GetRecentRecords(limit int) ([]models.TremorRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "wallclock", Value: -1}, {Key: "timestampns", Value: -1}}).
		SetLimit(int64(limit))
	return db.findRecords(bson.M{}, opts)
}

func (db *MongoClient) GetSessionRecords(sessionID string) ([]models.TremorRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestampns", Value: 1}})
	return db.findRecords(bson.M{"sessionid": sessionID}, opts)
}

func (db *MongoClient) CountRecords() (int, error) {
	count, err := db.collection("tremor_records").CountDocuments(context.Background(), bson.M{})
	if err != nil {
		return 0, fmt.Errorf("error counting records: %w", err)
	}
	return int(count), nil
}

func (db *MongoClient) findRecords(filter bson.M, opts *options.FindOptions) ([]models.TremorRecord, error) {
	ctx := context.Background()
	cursor, err := db.collection("tremor_records").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.TremorRecord
	for cursor.Next(ctx) {
		var doc recordDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding record: %w", err)
		}
		records = append(records, doc.Record)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}
