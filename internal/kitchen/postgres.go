package kitchen

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/sous/internal/storage"
	"github.com/haasonsaas/sous/pkg/models"
	"github.com/lib/pq"
)

// PostgresStore reads kitchen data written by the main application's tables.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on a Postgres database.
func NewPostgresStore(db *storage.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if db.Dialect != storage.DialectPostgres {
		return nil, fmt.Errorf("kitchen store requires postgres, got %s", db.Dialect)
	}
	return &PostgresStore{db: db.DB}, nil
}

const pantryColumns = `id, user_id, name, quantity, unit, category, location, expiration_date, created_at`

func (s *PostgresStore) ListPantryItems(ctx context.Context, userID string) ([]models.PantryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pantryColumns+`
		FROM pantry_items WHERE user_id = $1
		ORDER BY name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pantry items: %w", err)
	}
	return scanPantryRows(rows)
}

func (s *PostgresStore) ListExpiringItems(ctx context.Context, userID string, from, to time.Time) ([]models.PantryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pantryColumns+`
		FROM pantry_items
		WHERE user_id = $1 AND expiration_date IS NOT NULL
		  AND expiration_date >= $2 AND expiration_date <= $3
		ORDER BY expiration_date ASC
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring items: %w", err)
	}
	return scanPantryRows(rows)
}

func scanPantryRows(rows *sql.Rows) ([]models.PantryItem, error) {
	defer rows.Close()

	items := []models.PantryItem{}
	for rows.Next() {
		var item models.PantryItem
		var expiration sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.Name,
			&item.Quantity,
			&item.Unit,
			&item.Category,
			&item.Location,
			&expiration,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pantry item: %w", err)
		}
		if expiration.Valid {
			t := expiration.Time
			item.ExpirationDate = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pantry items: %w", err)
	}
	return items, nil
}

const recipeColumns = `id, user_id, title, description, cuisine, prep_minutes, cook_minutes, servings,
		ingredients, instructions, tags, created_at`

func (s *PostgresStore) ListRecipes(ctx context.Context, userID string) ([]models.Recipe, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recipeColumns+`
		FROM recipes WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	recipes := []models.Recipe{}
	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, *recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recipes: %w", err)
	}
	return recipes, nil
}

func (s *PostgresStore) GetRecipe(ctx context.Context, userID, recipeID string) (*models.Recipe, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recipeColumns+`
		FROM recipes WHERE id = $1 AND user_id = $2
	`, recipeID, userID)
	recipe, err := scanRecipe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recipe %s: %w", recipeID, ErrNotFound)
	}
	return recipe, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipe(row rowScanner) (*models.Recipe, error) {
	var recipe models.Recipe
	var ingredientsJSON []byte
	if err := row.Scan(
		&recipe.ID,
		&recipe.UserID,
		&recipe.Title,
		&recipe.Description,
		&recipe.Cuisine,
		&recipe.PrepMinutes,
		&recipe.CookMinutes,
		&recipe.Servings,
		&ingredientsJSON,
		pq.Array(&recipe.Instructions),
		pq.Array(&recipe.Tags),
		&recipe.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan recipe: %w", err)
	}
	if len(ingredientsJSON) > 0 {
		if err := json.Unmarshal(ingredientsJSON, &recipe.Ingredients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ingredients: %w", err)
		}
	}
	return &recipe, nil
}

func (s *PostgresStore) CurrentMealPlan(ctx context.Context, userID string, at time.Time) (*models.MealPlan, error) {
	day := at.Format("2006-01-02")
	var plan models.MealPlan
	var entriesJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, start_date, end_date, entries, created_at
		FROM meal_plans
		WHERE user_id = $1 AND start_date <= $2::date AND end_date >= $2::date
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, day).Scan(
		&plan.ID,
		&plan.UserID,
		&plan.Name,
		&plan.StartDate,
		&plan.EndDate,
		&entriesJSON,
		&plan.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("meal plan: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meal plan: %w", err)
	}
	plan.Entries = []models.MealPlanEntry{}
	if len(entriesJSON) > 0 {
		if err := json.Unmarshal(entriesJSON, &plan.Entries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal meal plan entries: %w", err)
		}
	}
	return &plan, nil
}

func (s *PostgresStore) GetShoppingList(ctx context.Context, userID, mealPlanID string) (*models.ShoppingList, error) {
	var list models.ShoppingList
	var itemsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, meal_plan_id, items, created_at
		FROM shopping_lists
		WHERE user_id = $1 AND meal_plan_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, mealPlanID).Scan(&list.ID, &list.UserID, &list.MealPlanID, &itemsJSON, &list.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("shopping list for meal plan %s: %w", mealPlanID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shopping list: %w", err)
	}
	list.Items = []models.ShoppingListItem{}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &list.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shopping list items: %w", err)
		}
	}
	return &list, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, display_name, dietary_preferences, allergies, goals,
		       household_size, onboarding_completed
		FROM user_profiles WHERE user_id = $1
	`, userID).Scan(
		&profile.UserID,
		&profile.DisplayName,
		pq.Array(&profile.DietaryPreferences),
		pq.Array(&profile.Allergies),
		pq.Array(&profile.Goals),
		&profile.HouseholdSize,
		&profile.OnboardingCompleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}
