package validation

// ValueKind is the closed set of metadata value shapes the engine understands.
// Classification runs once per metadata entry; everything downstream switches
// on the kind instead of re-probing the value.
type ValueKind int

const (
	KindScalar ValueKind = iota
	KindScalarArray
	KindMixedArray
	KindObjectArray
	KindPeriodPair
	KindPlainObject
)

const (
	periodFromKey = "Period_From"
	periodToKey   = "Period_To"
)

func Classify(value any) ValueKind {
	switch v := value.(type) {
	case *OrderedMap:
		if isPeriodPair(v) {
			return KindPeriodPair
		}
		return KindPlainObject
	case []any:
		if len(v) == 0 {
			return KindScalarArray
		}
		objects := 0
		for _, elem := range v {
			if _, ok := elem.(*OrderedMap); ok {
				objects++
			}
		}
		switch objects {
		case len(v):
			return KindObjectArray
		case 0:
			return KindScalarArray
		default:
			return KindMixedArray
		}
	default:
		return KindScalar
	}
}

func isPeriodPair(om *OrderedMap) bool {
	_, hasFrom := om.Get(periodFromKey)
	_, hasTo := om.Get(periodToKey)
	return hasFrom && hasTo
}
