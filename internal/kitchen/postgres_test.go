package kitchen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/haasonsaas/sous/internal/storage"
)

func setupMockStore(t *testing.T) (sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewPostgresStore(storage.Wrap(db, storage.DialectPostgres))
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	return mock, store
}

func TestNewPostgresStore_RejectsSQLite(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()
	if _, err := NewPostgresStore(storage.Wrap(db, storage.DialectSQLite)); err == nil {
		t.Fatal("expected error for sqlite dialect")
	}
}

func TestPostgresStore_GetRecipe(t *testing.T) {
	columns := []string{"id", "user_id", "title", "description", "cuisine", "prep_minutes", "cook_minutes",
		"servings", "ingredients", "instructions", "tags", "created_at"}

	t.Run("decodes arrays and ingredients", func(t *testing.T) {
		mock, store := setupMockStore(t)
		mock.ExpectQuery("FROM recipes WHERE id = \\$1 AND user_id = \\$2").
			WithArgs("r1", "alice").
			WillReturnRows(sqlmock.NewRows(columns).AddRow(
				"r1", "alice", "Saag", "green", "Indian", 15, 35, 4,
				`[{"name":"spinach","quantity":1,"unit":"bag"}]`,
				`{"Brown the chicken","Blend the spinach"}`,
				`{dinner,high-protein}`,
				now,
			))

		recipe, err := store.GetRecipe(context.Background(), "alice", "r1")
		if err != nil {
			t.Fatalf("GetRecipe() error = %v", err)
		}
		if len(recipe.Ingredients) != 1 || recipe.Ingredients[0].Name != "spinach" {
			t.Errorf("ingredients = %+v", recipe.Ingredients)
		}
		if len(recipe.Instructions) != 2 || recipe.Instructions[0] != "Brown the chicken" {
			t.Errorf("instructions = %+v", recipe.Instructions)
		}
		if len(recipe.Tags) != 2 || recipe.Tags[1] != "high-protein" {
			t.Errorf("tags = %+v", recipe.Tags)
		}
	})

	t.Run("missing maps to ErrNotFound", func(t *testing.T) {
		mock, store := setupMockStore(t)
		mock.ExpectQuery("FROM recipes").
			WithArgs("r9", "alice").
			WillReturnRows(sqlmock.NewRows(columns))

		if _, err := store.GetRecipe(context.Background(), "alice", "r9"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestPostgresStore_ListExpiringItems(t *testing.T) {
	mock, store := setupMockStore(t)
	from := now.Add(-15 * time.Hour)
	to := now.AddDate(0, 0, 3)
	exp := now.AddDate(0, 0, 1)

	mock.ExpectQuery("FROM pantry_items\\s+WHERE user_id = \\$1 AND expiration_date IS NOT NULL").
		WithArgs("alice", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "quantity", "unit", "category", "location", "expiration_date", "created_at"}).
			AddRow("p1", "alice", "spinach", 1.0, "bag", "produce", "fridge", exp, now))

	items, err := store.ListExpiringItems(context.Background(), "alice", from, to)
	if err != nil {
		t.Fatalf("ListExpiringItems() error = %v", err)
	}
	if len(items) != 1 || items[0].ExpirationDate == nil || !items[0].ExpirationDate.Equal(exp) {
		t.Fatalf("items = %+v", items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_CurrentMealPlan(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mock, store := setupMockStore(t)
		mock.ExpectQuery("FROM meal_plans").
			WithArgs("alice", "2026-02-14").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "start_date", "end_date", "entries", "created_at"}).
				AddRow("plan", "alice", "Week", now, now.AddDate(0, 0, 6), nil, now))

		plan, err := store.CurrentMealPlan(context.Background(), "alice", now)
		if err != nil {
			t.Fatalf("CurrentMealPlan() error = %v", err)
		}
		if plan.Entries == nil || len(plan.Entries) != 0 {
			t.Errorf("entries = %+v, want empty slice", plan.Entries)
		}
	})

	t.Run("none", func(t *testing.T) {
		mock, store := setupMockStore(t)
		mock.ExpectQuery("FROM meal_plans").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "start_date", "end_date", "entries", "created_at"}))

		if _, err := store.CurrentMealPlan(context.Background(), "alice", now); !errors.Is(err, ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestPostgresStore_GetProfile(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectQuery("FROM user_profiles WHERE user_id = \\$1").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "display_name", "dietary_preferences", "allergies", "goals", "household_size", "onboarding_completed"}).
			AddRow("alice", "Alice", `{vegetarian}`, `{}`, `{"eat more greens"}`, 3, true))

	profile, err := store.GetProfile(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if len(profile.DietaryPreferences) != 1 || len(profile.Allergies) != 0 || profile.Goals[0] != "eat more greens" {
		t.Errorf("profile = %+v", profile)
	}
	if !profile.OnboardingCompleted || profile.HouseholdSize != 3 {
		t.Errorf("profile = %+v", profile)
	}
}
