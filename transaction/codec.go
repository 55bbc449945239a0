package transaction

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"

	"go.viam.com/fuse/constraint"
	"go.viam.com/fuse/variable"
)

// document is the BSON layout of a transaction. Stamps are nanoseconds since the Unix epoch since
// BSON datetimes only keep milliseconds.
type document struct {
	Stamp              int64               `bson:"stamp"`
	InvolvedStamps     []int64             `bson:"involved_stamps"`
	AddedVariables     []variable.Record   `bson:"added_variables"`
	AddedConstraints   []constraint.Record `bson:"added_constraints"`
	RemovedVariables   []string            `bson:"removed_variables"`
	RemovedConstraints []string            `bson:"removed_constraints"`
}

// Marshal encodes the transaction as a BSON document.
func Marshal(tx *Transaction) ([]byte, error) {
	doc := document{
		Stamp: encodeStamp(tx.stamp),
		InvolvedStamps: lo.Map(tx.involvedStamps, func(stamp time.Time, _ int) int64 {
			return stamp.UnixNano()
		}),
		RemovedVariables:   lo.Map(tx.removedVariables, func(id uuid.UUID, _ int) string { return id.String() }),
		RemovedConstraints: lo.Map(tx.removedConstraints, func(id uuid.UUID, _ int) string { return id.String() }),
	}
	for _, v := range tx.addedVariables {
		rec, err := variable.ToRecord(v)
		if err != nil {
			return nil, err
		}
		doc.AddedVariables = append(doc.AddedVariables, rec)
	}
	for _, c := range tx.addedConstraints {
		rec, err := constraint.ToRecord(c)
		if err != nil {
			return nil, err
		}
		doc.AddedConstraints = append(doc.AddedConstraints, rec)
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encoding transaction")
	}
	return data, nil
}

// Unmarshal decodes a transaction written by Marshal.
func Unmarshal(data []byte) (*Transaction, error) {
	var doc document
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding transaction")
	}
	b := NewBuilder(decodeStamp(doc.Stamp))
	for _, stamp := range doc.InvolvedStamps {
		b.AddInvolvedStamp(time.Unix(0, stamp))
	}
	for _, rec := range doc.AddedVariables {
		v, err := variable.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		b.AddVariable(v, false)
	}
	for _, rec := range doc.AddedConstraints {
		c, err := constraint.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		b.AddConstraint(c, false)
	}
	for _, s := range doc.RemovedVariables {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.Wrap(err, "removed variable id")
		}
		b.RemoveVariable(id)
	}
	for _, s := range doc.RemovedConstraints {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.Wrap(err, "removed constraint id")
		}
		b.RemoveConstraint(id)
	}
	return b.Build(), nil
}

// The zero time is outside the range of UnixNano, so it is written as 0.
func encodeStamp(stamp time.Time) int64 {
	if stamp.IsZero() {
		return 0
	}
	return stamp.UnixNano()
}

func decodeStamp(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
