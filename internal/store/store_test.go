package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hazyhaar/lexkeeper/dbopen"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func seedInstrument(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.UpsertInstrument(context.Background(), &Instrument{ID: id, Title: "Ley de prueba"})
	if err != nil {
		t.Fatalf("seed instrument: %v", err)
	}
}

func seedBlock(t *testing.T, s *Store, instrumentID, blockID string) {
	t.Helper()
	seedInstrument(t, s, instrumentID)
	_, err := s.UpsertIndex(context.Background(), instrumentID,
		[]IndexEntry{{BlockID: blockID, UpdatedMarker: "seed"}})
	if err != nil {
		t.Fatalf("seed block: %v", err)
	}
}

func markSynced(t *testing.T, s *Store, instrumentID, blockID, marker string) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.MarkBlockSyncedTx(ctx, tx, instrumentID, blockID, marker); err != nil {
		tx.Rollback()
		t.Fatalf("mark synced: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func insertVersion(t *testing.T, s *Store, v *Version) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := s.InsertVersionTx(ctx, tx, v); err != nil {
		tx.Rollback()
		t.Fatalf("insert version: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func insertFragment(t *testing.T, s *Store, f *Fragment) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := s.InsertFragmentTx(ctx, tx, f); err != nil {
		tx.Rollback()
		t.Fatalf("insert fragment: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestApplySchema(t *testing.T) {
	// WHAT: Verify the schema creates all tables without error.
	// WHY: Everything else builds on it.
	s := newTestStore(t)
	for _, table := range []string{"instruments", "blocks", "versions", "fragments", "pending_embeddings", "sync_runs"} {
		var name string
		err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestUpsertInstrument(t *testing.T) {
	// WHAT: Upsert inserts then refreshes descriptive fields.
	// WHY: Instruments reappear on every sweep; the upsert must converge.
	s := newTestStore(t)
	ctx := context.Background()

	in := &Instrument{ID: "BOE-A-2015-10565", Title: "Ley 39/2015", Rank: "Ley"}
	if err := s.UpsertInstrument(ctx, in); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	first, err := s.GetInstrument(ctx, "BOE-A-2015-10565")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	in.Title = "Ley 39/2015, del Procedimiento Administrativo Común"
	if err := s.UpsertInstrument(ctx, in); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetInstrument(ctx, "BOE-A-2015-10565")
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if got.Title != in.Title {
		t.Errorf("title = %q, want refreshed", got.Title)
	}
	if got.CreatedAt != first.CreatedAt {
		t.Errorf("created_at changed on upsert: %d -> %d", first.CreatedAt, got.CreatedAt)
	}
	if got.LastSeenAt == nil {
		t.Error("last_seen_at not stamped")
	}
}

func TestGetInstrument_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetInstrument(context.Background(), "BOE-A-1900-00000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListInstruments_TitleFilter(t *testing.T) {
	// WHAT: The title filter narrows the listing to matching substrings.
	// WHY: Users find norms by fragments of their long official titles.
	s := newTestStore(t)
	ctx := context.Background()
	for _, in := range []*Instrument{
		{ID: "BOE-A-2015-10565", Title: "Ley 39/2015, del Procedimiento Administrativo Común"},
		{ID: "BOE-A-2015-10566", Title: "Ley 40/2015, de Régimen Jurídico del Sector Público"},
		{ID: "BOE-A-2018-16673", Title: "Ley Orgánica 3/2018, de Protección de Datos"},
	} {
		if err := s.UpsertInstrument(ctx, in); err != nil {
			t.Fatalf("upsert %s: %v", in.ID, err)
		}
	}

	all, err := s.ListInstruments(ctx, "", 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unfiltered = %d, want 3", len(all))
	}

	got, err := s.ListInstruments(ctx, "Procedimiento", 50)
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "BOE-A-2015-10565" {
		t.Fatalf("filtered = %+v, want only the Ley 39/2015 row", got)
	}

	none, err := s.ListInstruments(ctx, "Hipotecaria", 50)
	if err != nil {
		t.Fatalf("no-match list: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("no-match = %d rows, want 0", len(none))
	}
}

func TestMarkerDirty(t *testing.T) {
	cases := []struct {
		name      string
		stored    string
		hasStored bool
		incoming  string
		want      bool
	}{
		{"no prior row", "", false, "20240101", true},
		{"identical marker", "20240101", true, "20240101", false},
		{"marker advanced", "20240101", true, "20240601", true},
		{"marker regressed", "20240601", true, "20240101", true},
		{"empty incoming differs", "20240101", true, "", true},
		{"both empty", "", true, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MarkerDirty(tc.stored, tc.hasStored, tc.incoming); got != tc.want {
				t.Errorf("MarkerDirty(%q, %v, %q) = %v, want %v",
					tc.stored, tc.hasStored, tc.incoming, got, tc.want)
			}
		})
	}
}

func TestUpsertIndex_DirtyDetection(t *testing.T) {
	// WHAT: First sight is dirty, a synced marker is clean, any marker
	// difference is dirty again.
	// WHY: Dirty detection decides what gets re-fetched; a false clean
	// would silently freeze a block.
	s := newTestStore(t)
	ctx := context.Background()
	seedInstrument(t, s, "norm-1")

	entries := []IndexEntry{
		{BlockID: "a1", Heading: "Artículo 1", UpdatedMarker: "20151002"},
		{BlockID: "a2", Heading: "Artículo 2", UpdatedMarker: "20151002"},
	}

	dirty, err := s.UpsertIndex(ctx, "norm-1", entries)
	if err != nil {
		t.Fatalf("first index: %v", err)
	}
	if len(dirty) != 2 {
		t.Fatalf("first sight dirty = %d, want 2", len(dirty))
	}
	for _, e := range dirty {
		markSynced(t, s, "norm-1", e.BlockID, e.UpdatedMarker)
	}

	dirty, err = s.UpsertIndex(ctx, "norm-1", entries)
	if err != nil {
		t.Fatalf("second index: %v", err)
	}
	if len(dirty) != 0 {
		t.Fatalf("synced markers dirty = %d, want 0", len(dirty))
	}

	entries[0].UpdatedMarker = "20230101"
	dirty, err = s.UpsertIndex(ctx, "norm-1", entries)
	if err != nil {
		t.Fatalf("third index: %v", err)
	}
	if len(dirty) != 1 || dirty[0].BlockID != "a1" {
		t.Fatalf("changed marker dirty = %+v, want just a1", dirty)
	}
	markSynced(t, s, "norm-1", "a1", "20230101")

	// Marker regression is still a change.
	entries[0].UpdatedMarker = "20151002"
	dirty, err = s.UpsertIndex(ctx, "norm-1", entries)
	if err != nil {
		t.Fatalf("fourth index: %v", err)
	}
	if len(dirty) != 1 || dirty[0].BlockID != "a1" {
		t.Fatalf("regressed marker dirty = %+v, want just a1", dirty)
	}
}

func TestUpsertIndex_MarkerAdvancesOnlyOnSync(t *testing.T) {
	// WHAT: Listing a block does not move its stored marker; only a
	// successful sync does. An unsynced block stays dirty on re-listing.
	// WHY: If the marker advanced at listing time, a failed ingest would
	// look clean on the next sweep and the update would be lost until the
	// source changed the block again.
	s := newTestStore(t)
	ctx := context.Background()
	seedInstrument(t, s, "norm-1")

	entry := []IndexEntry{{BlockID: "a1", UpdatedMarker: "v1"}}
	s.UpsertIndex(ctx, "norm-1", entry)

	blk, err := s.GetBlock(ctx, "norm-1", "a1")
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if blk.UpdatedMarker != "" {
		t.Errorf("marker after listing = %q, want empty", blk.UpdatedMarker)
	}

	// The ingest never happened; the same listing must stay dirty.
	dirty, err := s.UpsertIndex(ctx, "norm-1", entry)
	if err != nil {
		t.Fatalf("re-list: %v", err)
	}
	if len(dirty) != 1 {
		t.Fatalf("unsynced block dirty = %d, want 1", len(dirty))
	}

	markSynced(t, s, "norm-1", "a1", "v1")
	blk, _ = s.GetBlock(ctx, "norm-1", "a1")
	if blk.UpdatedMarker != "v1" {
		t.Errorf("marker after sync = %q, want v1", blk.UpdatedMarker)
	}
	if blk.SyncedAt == nil {
		t.Error("synced_at not stamped")
	}

	dirty, err = s.UpsertIndex(ctx, "norm-1", entry)
	if err != nil {
		t.Fatalf("post-sync list: %v", err)
	}
	if len(dirty) != 0 {
		t.Fatalf("synced block dirty = %d, want 0", len(dirty))
	}
}

func TestUpsertIndex_DuplicateBlockIDs(t *testing.T) {
	// WHAT: A duplicated block ID in one index keeps the first occurrence.
	// WHY: Upstream indexes occasionally repeat entries; last-wins would
	// make the sweep outcome depend on upstream ordering noise.
	s := newTestStore(t)
	ctx := context.Background()
	seedInstrument(t, s, "norm-1")

	dirty, err := s.UpsertIndex(ctx, "norm-1", []IndexEntry{
		{BlockID: "a1", UpdatedMarker: "first"},
		{BlockID: "a1", UpdatedMarker: "second"},
	})
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(dirty) != 1 {
		t.Fatalf("dirty = %d, want 1", len(dirty))
	}
	if dirty[0].UpdatedMarker != "first" {
		t.Errorf("marker = %q, want first occurrence kept", dirty[0].UpdatedMarker)
	}
}

func TestInsertVersion_Idempotent(t *testing.T) {
	// WHAT: Re-inserting a version with the same content-hash ID is a no-op.
	// WHY: Idempotence is what makes crashed sweeps safely re-runnable.
	s := newTestStore(t)
	ctx := context.Background()
	seedBlock(t, s, "norm-1", "a1")

	v := &Version{
		ID: "vhash-1", InstrumentID: "norm-1", BlockID: "a1",
		EffectiveStart: "2015-10-02", RawHash: "raw", TextHash: "txt",
	}
	insertVersion(t, s, v)

	tx, _ := s.DB.BeginTx(ctx, nil)
	inserted, err := s.InsertVersionTx(ctx, tx, &Version{
		ID: "vhash-1", InstrumentID: "norm-1", BlockID: "a1",
		EffectiveStart: "2015-10-02", RawHash: "raw", TextHash: "txt",
	})
	if err != nil {
		tx.Rollback()
		t.Fatalf("re-insert: %v", err)
	}
	tx.Commit()
	if inserted {
		t.Error("re-insert reported a new row")
	}

	var n int
	s.DB.QueryRow(`SELECT COUNT(*) FROM versions`).Scan(&n)
	if n != 1 {
		t.Errorf("version count = %d, want 1", n)
	}
}

func TestInsertFragment_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBlock(t, s, "norm-1", "a1")
	insertVersion(t, s, &Version{ID: "v1", InstrumentID: "norm-1", BlockID: "a1",
		EffectiveStart: "2020-01-01", RawHash: "r", TextHash: "t"})

	f := &Fragment{ID: "fhash-1", VersionID: "v1", Ordinal: 0,
		Text: "El texto del fragmento.", TextHash: "th"}
	insertFragment(t, s, f)

	tx, _ := s.DB.BeginTx(ctx, nil)
	inserted, err := s.InsertFragmentTx(ctx, tx, f)
	if err != nil {
		tx.Rollback()
		t.Fatalf("re-insert: %v", err)
	}
	tx.Commit()
	if inserted {
		t.Error("re-insert reported a new row")
	}

	var n int
	s.DB.QueryRow(`SELECT COUNT(*) FROM fragments`).Scan(&n)
	if n != 1 {
		t.Errorf("fragment count = %d, want 1", n)
	}
}

func TestSearch(t *testing.T) {
	// WHAT: FTS5 matches fragment text, diacritics-insensitively, and hits
	// carry the version's temporal window.
	// WHY: Search is how users reach fragments without knowing IDs.
	s := newTestStore(t)
	ctx := context.Background()
	seedBlock(t, s, "norm-1", "a41")
	end := "2021-04-01"
	insertVersion(t, s, &Version{ID: "v-old", InstrumentID: "norm-1", BlockID: "a41",
		EffectiveStart: "2015-10-02", EffectiveEnd: &end, RawHash: "r1", TextHash: "t1"})
	insertVersion(t, s, &Version{ID: "v-new", InstrumentID: "norm-1", BlockID: "a41",
		EffectiveStart: "2021-04-01", RawHash: "r2", TextHash: "t2"})

	insertFragment(t, s, &Fragment{ID: "f-old", VersionID: "v-old", Ordinal: 0,
		ArticleLabel: "Artículo 41. Condiciones generales",
		Text:         "Las notificaciones se practicarán preferentemente por medios electrónicos.",
		TextHash:     "th1"})
	insertFragment(t, s, &Fragment{ID: "f-new", VersionID: "v-new", Ordinal: 0,
		ArticleLabel: "Artículo 41. Condiciones generales",
		Text:         "Las notificaciones se practicarán únicamente por medios electrónicos.",
		TextHash:     "th2"})

	hits, err := s.Search(ctx, "notificaciones", "", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	for _, h := range hits {
		if h.InstrumentID != "norm-1" || h.BlockID != "a41" {
			t.Errorf("hit missing provenance: %+v", h)
		}
	}

	// Diacritics-insensitive: query without the accent still matches.
	hits, err = s.Search(ctx, "electronicos", "", 10)
	if err != nil {
		t.Fatalf("accentless search: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("accentless hits = %d, want 2", len(hits))
	}

	// The open version's hit has no effective end.
	hits, _ = s.Search(ctx, "únicamente", "", 10)
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].EffectiveEnd != nil {
		t.Errorf("open version hit has end %v", *hits[0].EffectiveEnd)
	}
	if hits[0].EffectiveStart != "2021-04-01" {
		t.Errorf("hit start = %q", hits[0].EffectiveStart)
	}
}

func TestSearch_InstrumentScope(t *testing.T) {
	// WHAT: A non-empty instrument filter keeps only hits from that norm.
	// WHY: Scoped search lets a caller look inside one law without the rest
	// of the corpus drowning the ranking.
	s := newTestStore(t)
	ctx := context.Background()
	seedBlock(t, s, "norm-1", "a1")
	seedBlock(t, s, "norm-2", "a1")
	insertVersion(t, s, &Version{ID: "v1", InstrumentID: "norm-1", BlockID: "a1",
		EffectiveStart: "2020-01-01", RawHash: "r1", TextHash: "t1"})
	insertVersion(t, s, &Version{ID: "v2", InstrumentID: "norm-2", BlockID: "a1",
		EffectiveStart: "2020-01-01", RawHash: "r2", TextHash: "t2"})
	insertFragment(t, s, &Fragment{ID: "f1", VersionID: "v1", Ordinal: 0,
		Text: "El procedimiento administrativo común.", TextHash: "th1"})
	insertFragment(t, s, &Fragment{ID: "f2", VersionID: "v2", Ordinal: 0,
		Text: "El procedimiento sancionador especial.", TextHash: "th2"})

	hits, err := s.Search(ctx, "procedimiento", "", 10)
	if err != nil {
		t.Fatalf("unscoped search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("unscoped hits = %d, want 2", len(hits))
	}

	hits, err = s.Search(ctx, "procedimiento", "norm-2", 10)
	if err != nil {
		t.Fatalf("scoped search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("scoped hits = %d, want 1", len(hits))
	}
	if hits[0].InstrumentID != "norm-2" {
		t.Errorf("scoped hit from %q, want norm-2", hits[0].InstrumentID)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats on empty corpus: %v", err)
	}
	if st.Instruments != 0 || st.Versions != 0 || st.LastSyncAt != nil {
		t.Errorf("empty stats = %+v", st)
	}

	seedBlock(t, s, "norm-1", "a1")
	insertVersion(t, s, &Version{ID: "v1", InstrumentID: "norm-1", BlockID: "a1",
		EffectiveStart: "2020-01-01", RawHash: "r", TextHash: "t"})
	insertFragment(t, s, &Fragment{ID: "f1", VersionID: "v1", Ordinal: 0, Text: "texto", TextHash: "th"})

	if _, err := s.BeginSyncRun(ctx, "window", "2020-01-01", "2020-02-01"); err != nil {
		t.Fatalf("begin sync run: %v", err)
	}

	st, err = s.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Instruments != 1 || st.Blocks != 1 || st.Versions != 1 || st.OpenVersions != 1 || st.Fragments != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.LastSyncAt == nil {
		t.Error("last_sync_at not set after a run began")
	}
}

func TestSyncRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.BeginSyncRun(ctx, "window", "2024-01-01", "2024-02-01")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !strings.HasPrefix(id, "run_") {
		t.Errorf("run id = %q, want run_ prefix", id)
	}

	err = s.FinishSyncRun(ctx, &SyncRun{
		ID: id, Status: "ok",
		InstrumentsSeen: 3, BlocksSeen: 12, BlocksDirty: 4,
		VersionsAdded: 4, FragmentsAdded: 29,
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	runs, err := s.ListSyncRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	r := runs[0]
	if r.Status != "ok" || r.FinishedAt == nil || r.BlocksDirty != 4 || r.FragmentsAdded != 29 {
		t.Errorf("run = %+v", r)
	}
	if r.FailuresJSON != "[]" {
		t.Errorf("failures_json = %q, want []", r.FailuresJSON)
	}
}

func TestLastGoodWindow(t *testing.T) {
	// WHAT: The resume point is the furthest good window_to; error runs and
	// crash-orphaned running rows never advance it.
	// WHY: Advancing past an unlisted window would skip its changes forever.
	s := newTestStore(t)
	ctx := context.Background()

	to, err := s.LastGoodWindow(ctx)
	if err != nil || to != "" {
		t.Fatalf("empty log window = %q, %v; want empty", to, err)
	}

	finish := func(mode, from, wTo, status string) {
		t.Helper()
		id, err := s.BeginSyncRun(ctx, mode, from, wTo)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if status == "running" {
			return
		}
		if err := s.FinishSyncRun(ctx, &SyncRun{ID: id, Status: status}); err != nil {
			t.Fatalf("finish: %v", err)
		}
	}

	finish("historical", "2024-01-01", "2024-02-01", "ok")
	finish("historical", "2024-02-01", "2024-03-03", "partial")
	finish("window", "2024-03-03", "2024-03-20", "error")
	finish("window", "2024-03-03", "2024-04-01", "running") // orphan

	to, err = s.LastGoodWindow(ctx)
	if err != nil {
		t.Fatalf("last good window: %v", err)
	}
	if to != "2024-03-03" {
		t.Errorf("window = %q, want 2024-03-03: partial counts, error and running do not", to)
	}
}

func TestLastFailures(t *testing.T) {
	// WHAT: Carry-forward reads the most recently finished run's failures,
	// so an ok run clears the retry list.
	// WHY: The next sweep retries exactly the instruments that just failed,
	// not failures a healed run already dealt with.
	s := newTestStore(t)
	ctx := context.Background()

	fj, err := s.LastFailures(ctx)
	if err != nil || fj != "" {
		t.Fatalf("empty log failures = %q, %v; want empty", fj, err)
	}

	id1, err := s.BeginSyncRun(ctx, "window", "2024-01-01", "2024-01-08")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	err = s.FinishSyncRun(ctx, &SyncRun{ID: id1, Status: "partial",
		FailuresJSON: `[{"instrument_id":"ES-L-1","stage":"index","error":"timeout"}]`})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	fj, err = s.LastFailures(ctx)
	if err != nil {
		t.Fatalf("last failures: %v", err)
	}
	if !strings.Contains(fj, "ES-L-1") {
		t.Errorf("failures = %q, want the partial run's list", fj)
	}

	id2, err := s.BeginSyncRun(ctx, "window", "2024-01-08", "2024-01-15")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.FinishSyncRun(ctx, &SyncRun{ID: id2, Status: "ok"}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	fj, err = s.LastFailures(ctx)
	if err != nil {
		t.Fatalf("last failures: %v", err)
	}
	if fj != "[]" {
		t.Errorf("failures = %q, want the ok run's empty list", fj)
	}
}
