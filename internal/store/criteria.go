package store

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/adoption-cli/internal/criteria"
)

// encodeCriteria returns the JSON column value for a rule; nil stays NULL.
func encodeCriteria(c criteria.Criteria) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	b, err := criteria.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode criteria")
	}
	return b, nil
}

func decodeCriteria(attributeID string, raw []byte) (criteria.Criteria, error) {
	c, err := criteria.Parse(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "store: decode criteria for attribute %s", attributeID)
	}
	return c, nil
}
