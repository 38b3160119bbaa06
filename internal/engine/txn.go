// Transaction Manager: buffers page writes in memory until commit
// (spec.md §4.6). Transactions are not nested and not concurrent; the
// engine enforces a single active transaction at a time.
package engine

type pendingWrite struct {
	id      pageID
	payload []byte
	version uint32
	flags   uint8
	prev    pageID
	next    pageID
}

// txnView is the buffered pageIO a transaction's component operations
// see: reads check the buffer first (spec.md §4.6 "reads within a
// transaction see uncommitted writes from the same transaction
// first"), writes are appended to an ordered list and never reach the
// real pager until commit replays them.
type txnView struct {
	real   *pager
	order  []pendingWrite
	latest map[pageID]pendingWrite
}

func newTxnView(real *pager) *txnView {
	return &txnView{real: real, latest: make(map[pageID]pendingWrite)}
}

func (v *txnView) readPage(id pageID) ([]byte, header, error) {
	if w, ok := v.latest[id]; ok {
		return w.payload, header{Version: w.version, Prev: w.prev, Next: w.next, Flags: w.flags, Length: uint32(len(w.payload))}, nil
	}
	return v.real.readPage(id)
}

func (v *txnView) writePage(id pageID, payload []byte, version uint32, flags uint8, prev, next pageID) error {
	w := pendingWrite{id: id, payload: append([]byte(nil), payload...), version: version, flags: flags, prev: prev, next: next}
	v.order = append(v.order, w)
	v.latest[id] = w
	return nil
}

func (v *txnView) payloadCap() int { return v.real.payloadCap() }

// replay applies every buffered write to the real pager, in insertion
// order, exactly as spec.md §4.6 "commit applies writes in insertion
// order" requires.
func (v *txnView) replay() error {
	for _, w := range v.order {
		if err := v.real.writePage(w.id, w.payload, w.version, w.flags, w.prev, w.next); err != nil {
			return err
		}
	}
	return nil
}

// Txn is the transaction Engine.BeginTransaction opens (callers only
// ever see its id). It carries the
// in-progress index/trie/free-list roots as they are mutated by
// operations issued against it, and the buffered view those
// operations write through.
type Txn struct {
	id   uint64
	view *txnView

	indexRoot VersionedLink
	trieRoot  VersionedLink
	freeRoot  VersionedLink
}

func beginTxn(id uint64, real *pager, indexRoot, trieRoot, freeRoot VersionedLink) *Txn {
	return &Txn{
		id:        id,
		view:      newTxnView(real),
		indexRoot: indexRoot,
		trieRoot:  trieRoot,
		freeRoot:  freeRoot,
	}
}
