package driver

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// docKey identifies a document within a collection: the id's BSON type
// plus its encoded bytes.
type docKey struct {
	IDType byte   `msgpack:"t"`
	ID     string `msgpack:"i"`
}

func keyOf(id bson.RawValue) (docKey, error) {
	if id.Type == bsontype.Type(0) || id.Type == bsontype.Null || id.Type == bsontype.Undefined {
		return docKey{}, ErrInvalidID
	}
	return docKey{IDType: byte(id.Type), ID: string(id.Value)}, nil
}

func (k docKey) rawValue() bson.RawValue {
	return bson.RawValue{Type: bsontype.Type(k.IDType), Value: []byte(k.ID)}
}

// cacheKey flattens collection and key into one string.
func cacheKey(collection string, k docKey) string {
	return collection + "\x00" + string([]byte{k.IDType}) + k.ID
}

// cloneRaw copies doc so the caller's buffer can be reused.
func cloneRaw(doc bson.Raw) bson.Raw {
	if doc == nil {
		return nil
	}
	out := make(bson.Raw, len(doc))
	copy(out, doc)
	return out
}
