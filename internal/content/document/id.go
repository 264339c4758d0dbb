package document

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	dErrors "lms/pkg/domain-errors"
)

// ID identifies a stored document. IDs are 12-byte object ids rendered as
// 24 hex characters; they embed their creation second, so ids generated by
// one process sort in creation order.
type ID primitive.ObjectID

// NewID generates a fresh identifier.
func NewID() ID {
	return ID(primitive.NewObjectID())
}

// ParseID parses the hex form of an identifier. Anything that is not exactly
// 24 hex characters fails with CodeInvalidID. The all-zero id is well formed;
// it is never generated, so lookups report it as not found.
func ParseID(s string) (ID, error) {
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return ID{}, dErrors.New(dErrors.CodeInvalidID, "invalid id format")
	}
	return ID(oid), nil
}

func (id ID) String() string {
	return primitive.ObjectID(id).Hex()
}

func (id ID) IsZero() bool {
	return primitive.ObjectID(id).IsZero()
}

// Timestamp returns the creation second embedded in the id.
func (id ID) Timestamp() time.Time {
	return primitive.ObjectID(id).Timestamp()
}

// ObjectID exposes the id in the driver's representation.
func (id ID) ObjectID() primitive.ObjectID {
	return primitive.ObjectID(id)
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
