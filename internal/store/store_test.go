package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func conv(acc, id string) *Conversation {
	return &Conversation{AccountID: acc, ConversationID: id, Mode: "one_to_one", ContactURI: "jami:peer", Members: []string{"jami:me", "jami:peer"}}
}

func text(acc, convID, id string, seq, ts int64, body string) *Interaction {
	return &Interaction{AccountID: acc, ConversationID: convID, InteractionID: id, Seq: seq, Kind: KindText,
		Author: "jami:peer", Body: body, Status: "sent", Incoming: true, Timestamp: ts}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2", result.Version)
	}
}

func TestInsertInteractionCreatesConversation(t *testing.T) {
	db := testDB(t)

	if err := db.InsertInteraction(conv("acc1", "c1"), text("acc1", "c1", "m1", 1, 1000, "hello")); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetConversation("acc1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("conversation row not created")
	}
	if c.LastActivity != 1000 {
		t.Errorf("LastActivity = %d, want 1000", c.LastActivity)
	}
	if len(c.Members) != 2 {
		t.Errorf("members = %v, want 2 entries", c.Members)
	}
}

func TestInsertInteractionIsIdempotent(t *testing.T) {
	db := testDB(t)
	c := conv("acc1", "c1")
	for range 3 {
		if err := db.InsertInteraction(c, text("acc1", "c1", "m1", 1, 1000, "hello")); err != nil {
			t.Fatal(err)
		}
	}
	list, err := db.ListInteractions("acc1", "c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("got %d interactions, want 1", len(list))
	}
}

func TestUpdateAndDeleteMissingAreNoops(t *testing.T) {
	db := testDB(t)
	if err := db.UpdateInteraction(text("acc1", "c1", "ghost", 1, 1, "x")); err != nil {
		t.Errorf("UpdateInteraction(missing) error = %v", err)
	}
	if err := db.DeleteInteraction("acc1", "c1", "ghost"); err != nil {
		t.Errorf("DeleteInteraction(missing) error = %v", err)
	}
	if err := db.DeleteConversation("acc1", "nope"); err != nil {
		t.Errorf("DeleteConversation(missing) error = %v", err)
	}
}

func TestUpdateInteractionStatus(t *testing.T) {
	db := testDB(t)
	i := text("acc1", "c1", "m1", 1, 1000, "hello")
	if err := db.InsertInteraction(conv("acc1", "c1"), i); err != nil {
		t.Fatal(err)
	}
	i.Status = "displayed"
	if err := db.UpdateInteraction(i); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetInteraction("acc1", "c1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "displayed" {
		t.Errorf("status = %q, want displayed", got.Status)
	}
}

func TestRenameInteraction(t *testing.T) {
	db := testDB(t)
	if err := db.InsertInteraction(conv("acc1", "c1"), text("acc1", "c1", "local-1", 1, 1000, "hi")); err != nil {
		t.Fatal(err)
	}
	if err := db.RenameInteraction("acc1", "c1", "local-1", "daemon-1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := db.GetInteraction("acc1", "c1", "local-1"); got != nil {
		t.Error("old id still present")
	}
	if got, _ := db.GetInteraction("acc1", "c1", "daemon-1"); got == nil || got.Body != "hi" {
		t.Errorf("renamed row = %+v", got)
	}
}

func TestListInteractionsKeyset(t *testing.T) {
	db := testDB(t)
	c := conv("acc1", "c1")
	for n := int64(1); n <= 5; n++ {
		if err := db.InsertInteraction(c, text("acc1", "c1", string(rune('a'+n)), n, 1000*n, "m")); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.ListInteractions("acc1", "c1", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Seq != 5 || page[1].Seq != 4 {
		t.Fatalf("first page = %+v", page)
	}
	page, err = db.ListInteractions("acc1", "c1", page[1].Seq, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 || page[0].Seq != 3 {
		t.Errorf("second page = %+v", page)
	}
}

func TestListInteractionsByTime(t *testing.T) {
	db := testDB(t)
	c := conv("acc1", "c1")
	for n := int64(1); n <= 5; n++ {
		if err := db.InsertInteraction(c, text("acc1", "c1", string(rune('a'+n)), n, 1000*n, "m")); err != nil {
			t.Fatal(err)
		}
	}
	got, err := db.ListInteractionsByTime("acc1", "c1", 2000, 4000)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Timestamp != 2000 || got[1].Timestamp != 3000 {
		t.Errorf("range = %+v", got)
	}
}

func TestSmartlistReturnsNewestPerConversation(t *testing.T) {
	db := testDB(t)
	if err := db.InsertInteraction(conv("acc1", "c1"), text("acc1", "c1", "m1", 1, 1000, "old")); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertInteraction(conv("acc1", "c1"), text("acc1", "c1", "m2", 2, 3000, "new")); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertInteraction(conv("acc1", "c2"), text("acc1", "c2", "m3", 1, 2000, "other")); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation(conv("acc1", "empty")); err != nil {
		t.Fatal(err)
	}

	rows, err := db.Smartlist("acc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0].Conversation.ConversationID != "c1" || rows[0].Last == nil || rows[0].Last.Body != "new" {
		t.Errorf("row 0 = %+v last=%+v", rows[0].Conversation, rows[0].Last)
	}
	if rows[1].Conversation.ConversationID != "c2" {
		t.Errorf("row 1 = %s, want c2", rows[1].Conversation.ConversationID)
	}
	if rows[2].Last != nil {
		t.Errorf("empty conversation has last = %+v", rows[2].Last)
	}
}

func TestClearHistoryKeepsContactEvents(t *testing.T) {
	db := testDB(t)
	c := conv("acc1", "c1")
	if err := db.InsertInteraction(c, &Interaction{AccountID: "acc1", ConversationID: "c1", InteractionID: "e1", Seq: 1, Kind: KindContact, Body: "join"}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertInteraction(c, text("acc1", "c1", "m1", 2, 1000, "hi")); err != nil {
		t.Fatal(err)
	}
	if err := db.ClearHistory("acc1", "c1"); err != nil {
		t.Fatal(err)
	}
	list, err := db.ListInteractions("acc1", "c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Kind != KindContact {
		t.Errorf("after clear = %+v", list)
	}
}

func TestContactUpsertKeepsNames(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertContact(&Contact{AccountID: "acc1", URI: "jami:a", DisplayName: "Alice", AddedAt: 10}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertContact(&Contact{AccountID: "acc1", URI: "jami:a", RegisteredName: "alice", Confirmed: true}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetContact("acc1", "jami:a")
	if err != nil {
		t.Fatal(err)
	}
	if c.DisplayName != "Alice" || c.RegisteredName != "alice" || !c.Confirmed || c.AddedAt != 10 {
		t.Errorf("contact = %+v", c)
	}
	if missing, err := db.GetContact("acc1", "jami:nobody"); err != nil || missing != nil {
		t.Errorf("GetContact(missing) = %+v, %v", missing, err)
	}
}

func TestTrustRequestsKeyedBySender(t *testing.T) {
	db := testDB(t)
	for _, ts := range []int64{100, 50, 200} {
		if err := db.UpsertTrustRequest(&TrustRequest{AccountID: "acc1", FromURI: "jami:b", ReceivedAt: ts}); err != nil {
			t.Fatal(err)
		}
	}
	reqs, err := db.ListTrustRequests("acc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].ReceivedAt != 200 {
		t.Fatalf("requests = %+v", reqs)
	}
	if err := db.DeleteTrustRequest("acc1", "jami:b"); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteTrustRequest("acc1", "jami:b"); err != nil {
		t.Errorf("second delete error = %v", err)
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	db := testDB(t)
	if err := db.InsertInteraction(conv("acc1", "c1"), text("acc1", "c1", "m1", 1, 1000, "hi")); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertInteraction(conv("acc2", "c9"), text("acc2", "c9", "m9", 1, 1000, "keep")); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertContact(&Contact{AccountID: "acc1", URI: "jami:a"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertTrustRequest(&TrustRequest{AccountID: "acc1", FromURI: "jami:b"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("acc1/notified", "5"); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteAccount("acc1"); err != nil {
		t.Fatal(err)
	}
	s, err := db.Stats("acc1")
	if err != nil {
		t.Fatal(err)
	}
	if s != (Stats{}) {
		t.Errorf("stats after delete = %+v, want zero", s)
	}
	if v, _ := db.Checkpoint("acc1/notified"); v != "" {
		t.Errorf("checkpoint survived: %q", v)
	}
	other, err := db.Stats("acc2")
	if err != nil {
		t.Fatal(err)
	}
	if other.Interactions != 1 {
		t.Errorf("acc2 interactions = %d, want 1", other.Interactions)
	}
}

func TestSearchInteractions(t *testing.T) {
	db := testDB(t)
	c := conv("acc1", "c1")
	if err := db.InsertInteraction(c, text("acc1", "c1", "m1", 1, 1000, "see you at the Market tomorrow")); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertInteraction(c, text("acc1", "c1", "m2", 2, 2000, "100% sure")); err != nil {
		t.Fatal(err)
	}

	res, err := db.SearchInteractions("acc1", "market", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Interaction.InteractionID != "m1" {
		t.Fatalf("results = %+v", res)
	}
	if res[0].Snippet == "" {
		t.Error("empty snippet")
	}

	res, err = db.SearchInteractions("acc1", "%", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Interaction.InteractionID != "m2" {
		t.Errorf("literal %% search = %+v", res)
	}
}

func TestCheckpoints(t *testing.T) {
	db := testDB(t)
	if v, err := db.CheckpointInt("k"); err != nil || v != 0 {
		t.Fatalf("unset = %d, %v", v, err)
	}
	if err := db.SetCheckpoint("k", "42"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("k", "43"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.CheckpointInt("k"); v != 43 {
		t.Errorf("checkpoint = %d, want 43", v)
	}
}
