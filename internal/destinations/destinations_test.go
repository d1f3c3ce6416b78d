package destinations

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tgcast/internal/domain"
	"tgcast/internal/eventbus"
	"tgcast/internal/registry"
	"tgcast/internal/storage"
	"tgcast/internal/transport"
	"tgcast/internal/transport/transporttest"
	logx "tgcast/pkg/logx"
)

const token = "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi"

func setup(t *testing.T) (*Service, storage.Store, *transporttest.Client, domain.CredentialID) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "d.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	fake := transporttest.New()
	fake.Chat = transport.ChatInfo{ID: -100123, Type: "channel", Title: "News"}
	reg := registry.New(func(string) (transport.Client, error) { return fake, nil }, logx.Nop())
	tenant, err := reg.Register("main", token)
	if err != nil {
		t.Fatal(err)
	}
	return New(st, reg, eventbus.New(), logx.Nop()), st, fake, tenant
}

func TestNormalizeChat(t *testing.T) {
	cases := map[string]string{
		"-100123":              "-100123",
		"news":                 "@news",
		"@news":                "@news",
		" https://t.me/news/ ": "@news",
		"t.me/news":            "@news",
		"":                     "",
	}
	for in, want := range cases {
		if got := NormalizeChat(in); got != want {
			t.Fatalf("NormalizeChat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegister(t *testing.T) {
	svc, _, fake, tenant := setup(t)
	ctx := context.Background()

	d, err := svc.Register(ctx, tenant, "t.me/news", "", []string{"Daily", "daily"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if d.Chat != "-100123" || d.Name != "News" || len(d.Tags) != 1 {
		t.Fatalf("destination = %+v", d)
	}
	if fake.Count("getChatMember", "@news") != 1 {
		t.Fatalf("admin check not performed: %+v", fake.Calls())
	}
	if _, err := svc.Register(ctx, tenant, "@news", "", nil); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("duplicate err = %v", err)
	}
}

func TestRegisterRequiresRights(t *testing.T) {
	svc, _, fake, tenant := setup(t)
	ctx := context.Background()

	fake.Member = transport.MemberInfo{Status: "member"}
	if _, err := svc.Register(ctx, tenant, "@a", "", nil); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("member err = %v", err)
	}
	fake.Member = transport.MemberInfo{Status: "administrator", IsAdminLike: true}
	if _, err := svc.Register(ctx, tenant, "@a", "", nil); !errors.Is(err, ErrCannotPost) {
		t.Fatalf("no post rights err = %v", err)
	}
	fake.Chat.Type = "supergroup"
	if _, err := svc.Register(ctx, tenant, "@a", "", nil); err != nil {
		t.Fatalf("supergroup admin should register: %v", err)
	}
}

func TestDeleteSweepsReferences(t *testing.T) {
	svc, st, _, tenant := setup(t)
	ctx := context.Background()
	mk := func(chat string) string {
		d := &domain.Destination{Tenant: tenant, Chat: chat}
		if err := st.CreateDestination(ctx, d); err != nil {
			t.Fatal(err)
		}
		return d.ID
	}
	gone, keep := mk("@gone"), mk("@keep")
	at := time.Now().Add(time.Hour)

	r1 := &domain.RecurringDefinition{Tenant: tenant, Text: "r1", Cadence: domain.CadenceDaily, DestinationIDs: []string{gone, keep}, NextTrigger: at}
	r2 := &domain.RecurringDefinition{Tenant: tenant, Text: "r2", Cadence: domain.CadenceDaily, DestinationIDs: []string{gone}, NextTrigger: at}
	r3 := &domain.RecurringDefinition{Tenant: tenant, Text: "r3", Cadence: domain.CadenceDaily, DestinationIDs: []string{keep}, NextTrigger: at}
	for _, r := range []*domain.RecurringDefinition{r1, r2, r3} {
		if err := st.CreateRecurring(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	p1 := &domain.OneOffPost{Tenant: tenant, Text: "p1", DestinationIDs: []string{keep, gone}, TriggerAt: at}
	p2 := &domain.OneOffPost{Tenant: tenant, Text: "p2", DestinationIDs: []string{keep}, TriggerAt: at}
	for _, p := range []*domain.OneOffPost{p1, p2} {
		if err := st.CreatePost(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	bus := svc.bus
	events, unsub := bus.Subscribe(4)
	defer unsub()

	if err := svc.Delete(ctx, tenant, gone); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	check := func(name string, got, want []string) {
		t.Helper()
		if len(got) != len(want) {
			t.Fatalf("%s destinations = %v, want %v", name, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s destinations = %v, want %v", name, got, want)
			}
		}
	}
	for _, tc := range []struct {
		id   string
		want []string
	}{{r1.ID, []string{keep}}, {r2.ID, []string{}}, {r3.ID, []string{keep}}} {
		r, err := st.GetRecurring(ctx, tc.id)
		if err != nil {
			t.Fatal(err)
		}
		check(r.Text, r.DestinationIDs, tc.want)
	}
	for _, tc := range []struct {
		id   string
		want []string
	}{{p1.ID, []string{keep}}, {p2.ID, []string{keep}}} {
		p, err := st.GetPost(ctx, tc.id)
		if err != nil {
			t.Fatal(err)
		}
		check(p.Text, p.DestinationIDs, tc.want)
	}

	select {
	case ev := <-events:
		rep, ok := ev.Data.(SweepReport)
		if !ok || rep.Recurring != 2 || rep.Posts != 1 {
			t.Fatalf("sweep event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no sweep event")
	}
}

func TestGroups(t *testing.T) {
	svc, st, _, tenant := setup(t)
	ctx := context.Background()
	d := &domain.Destination{Tenant: tenant, Chat: "@a"}
	foreign := &domain.Destination{Tenant: "other", Chat: "@b"}
	for _, x := range []*domain.Destination{d, foreign} {
		if err := st.CreateDestination(ctx, x); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := svc.CreateGroup(ctx, tenant, "mix", []string{d.ID, foreign.ID}); !errors.Is(err, ErrWrongTenant) {
		t.Fatalf("foreign member err = %v", err)
	}
	g, err := svc.CreateGroup(ctx, tenant, "mine", []string{d.ID, d.ID})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if len(g.DestinationIDs) != 1 {
		t.Fatalf("members = %v", g.DestinationIDs)
	}
	g, err = svc.UpdateGroup(ctx, tenant, g.ID, "renamed", nil)
	if err != nil || g.Name != "renamed" || len(g.DestinationIDs) != 0 {
		t.Fatalf("UpdateGroup = %+v, %v", g, err)
	}
	if err := svc.DeleteGroup(ctx, tenant, g.ID); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	groups, err := svc.ListGroups(ctx, tenant)
	if err != nil || len(groups) != 0 {
		t.Fatalf("ListGroups = %v, %v", groups, err)
	}
}
