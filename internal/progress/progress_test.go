package progress

import (
	"context"
	"testing"
)

func TestMemoryStoreGetOrCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == "" {
		t.Error("record has no ID")
	}
	if first.OnboardingCompleted {
		t.Error("new record must start with onboarding incomplete")
	}
	if first.PreferredThemes == nil || first.Interests == nil {
		t.Error("new record must have empty, not nil, preference slices")
	}

	second, err := store.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("repeat access created a new record: %s vs %s", second.ID, first.ID)
	}

	other, err := store.GetOrCreate(ctx, "user-2")
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == first.ID {
		t.Error("different users share a record")
	}

	if _, err := store.GetOrCreate(ctx, ""); err == nil {
		t.Error("empty user id must be rejected")
	}
}

func TestMemoryStoreSavePreferences(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec, err := store.SavePreferences(ctx, "user-1", Preferences{
		PreferredThemes: []string{"space", "animals"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.PreferredThemes) != 2 {
		t.Errorf("themes = %v", rec.PreferredThemes)
	}
	if len(rec.Interests) != 0 {
		t.Errorf("interests = %v, want untouched", rec.Interests)
	}

	// Nil leaves stored values alone; empty clears them.
	rec, err = store.SavePreferences(ctx, "user-1", Preferences{Interests: []string{"rockets"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.PreferredThemes) != 2 {
		t.Errorf("nil patch clobbered themes: %v", rec.PreferredThemes)
	}
	if len(rec.Interests) != 1 {
		t.Errorf("interests = %v", rec.Interests)
	}

	rec, err = store.SavePreferences(ctx, "user-1", Preferences{PreferredThemes: []string{}})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.PreferredThemes) != 0 {
		t.Errorf("empty patch did not clear themes: %v", rec.PreferredThemes)
	}
}

func TestOnboardingIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec, err := store.CompleteOnboarding(ctx, "user-1", Preferences{
		PreferredThemes: []string{"dragons"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !rec.OnboardingCompleted {
		t.Fatal("onboarding not marked complete")
	}
	if len(rec.PreferredThemes) != 1 {
		t.Errorf("onboarding preferences lost: %v", rec.PreferredThemes)
	}

	// No later preference write may reset the flag.
	rec, err = store.SavePreferences(ctx, "user-1", Preferences{Interests: []string{"castles"}})
	if err != nil {
		t.Fatal(err)
	}
	if !rec.OnboardingCompleted {
		t.Error("preference update reset the onboarding flag")
	}

	rec, err = store.CompleteOnboarding(ctx, "user-1", Preferences{})
	if err != nil {
		t.Fatal(err)
	}
	if !rec.OnboardingCompleted {
		t.Error("repeat completion reset the flag")
	}
}
