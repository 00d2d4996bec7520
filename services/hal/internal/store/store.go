// Package store persists the active actuator and sensor sets. Each namespace
// holds one CBOR record per slot (slot_00, slot_01, ...) plus a count key.
package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"

	"fieldnode-go/errcode"
)

// Namespaces.
const (
	Actuators = "actuators"
	Sensors   = "sensors"
)

const countKey = "count"

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("key not found")

// KV is a namespaced byte store.
type KV interface {
	Get(ns, key string) ([]byte, error)
	Put(ns, key string, val []byte) error
	Delete(ns, key string) error
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor decoder mode: %v", err))
	}
}

// SlotKey names the record at slot i.
func SlotKey(i int) string { return fmt.Sprintf("slot_%02d", i) }

// SaveSet replaces the namespace contents with items. Records beyond the new
// count are deleted so a shrinking set leaves no stale slots behind.
func SaveSet[T any](kv KV, ns string, items []T) error {
	prev, _ := readCount(kv, ns)
	for i, it := range items {
		b, err := encMode.Marshal(it)
		if err != nil {
			return errcode.Wrap(errcode.PersistFailed, ns, err)
		}
		if err := kv.Put(ns, SlotKey(i), b); err != nil {
			return errcode.Wrap(errcode.PersistFailed, ns, err)
		}
	}
	if err := kv.Put(ns, countKey, []byte(strconv.Itoa(len(items)))); err != nil {
		return errcode.Wrap(errcode.PersistFailed, ns, err)
	}
	for i := len(items); i < prev; i++ {
		if err := kv.Delete(ns, SlotKey(i)); err != nil && !errors.Is(err, ErrNotFound) {
			return errcode.Wrap(errcode.PersistFailed, ns, err)
		}
	}
	return nil
}

// LoadSet reads the namespace. Unreadable records are skipped and reported
// with code invalid_record; the rest load.
func LoadSet[T any](kv KV, ns string) ([]T, []error) {
	n, err := readCount(kv, ns)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, []error{errcode.Wrap(errcode.InvalidRecord, ns+"/"+countKey, err)}
	}
	var (
		out  []T
		errs []error
	)
	for i := 0; i < n; i++ {
		key := SlotKey(i)
		b, err := kv.Get(ns, key)
		if err != nil {
			errs = append(errs, errcode.Wrap(errcode.InvalidRecord, ns+"/"+key, err))
			continue
		}
		var it T
		if err := decMode.Unmarshal(b, &it); err != nil {
			errs = append(errs, errcode.Wrap(errcode.InvalidRecord, ns+"/"+key, err))
			continue
		}
		out = append(out, it)
	}
	return out, errs
}

func readCount(kv KV, ns string) (int, error) {
	b, err := kv.Get(ns, countKey)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(b))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad count %q", b)
	}
	return n, nil
}
