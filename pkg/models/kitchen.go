package models

import "time"

// PantryItem is a single stocked ingredient in a user's pantry.
type PantryItem struct {
	ID             string     `json:"id" yaml:"id"`
	UserID         string     `json:"-" yaml:"user_id"`
	Name           string     `json:"name" yaml:"name"`
	Quantity       float64    `json:"quantity" yaml:"quantity"`
	Unit           string     `json:"unit,omitempty" yaml:"unit"`
	Category       string     `json:"category,omitempty" yaml:"category"`
	Location       string     `json:"location,omitempty" yaml:"location"` // pantry, fridge, freezer
	ExpirationDate *time.Time `json:"expirationDate,omitempty" yaml:"expiration_date"`
	CreatedAt      time.Time  `json:"createdAt" yaml:"created_at"`
}

// Ingredient is one line of a recipe's ingredient list.
type Ingredient struct {
	Name     string  `json:"name" yaml:"name"`
	Quantity float64 `json:"quantity,omitempty" yaml:"quantity"`
	Unit     string  `json:"unit,omitempty" yaml:"unit"`
	Note     string  `json:"note,omitempty" yaml:"note"`
}

// Recipe is a recipe saved by a user.
type Recipe struct {
	ID           string       `json:"id" yaml:"id"`
	UserID       string       `json:"-" yaml:"user_id"`
	Title        string       `json:"title" yaml:"title"`
	Description  string       `json:"description,omitempty" yaml:"description"`
	Cuisine      string       `json:"cuisine,omitempty" yaml:"cuisine"`
	PrepMinutes  int          `json:"prepMinutes,omitempty" yaml:"prep_minutes"`
	CookMinutes  int          `json:"cookMinutes,omitempty" yaml:"cook_minutes"`
	Servings     int          `json:"servings,omitempty" yaml:"servings"`
	Ingredients  []Ingredient `json:"ingredients,omitempty" yaml:"ingredients"`
	Instructions []string     `json:"instructions,omitempty" yaml:"instructions"`
	Tags         []string     `json:"tags,omitempty" yaml:"tags"`
	CreatedAt    time.Time    `json:"createdAt" yaml:"created_at"`
}

// RecipeSummary is the list view of a recipe returned by searches.
type RecipeSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Cuisine     string   `json:"cuisine,omitempty"`
	TotalTime   int      `json:"totalMinutes,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Summary returns the list view of the recipe.
func (r Recipe) Summary() RecipeSummary {
	return RecipeSummary{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Cuisine:     r.Cuisine,
		TotalTime:   r.PrepMinutes + r.CookMinutes,
		Tags:        r.Tags,
	}
}

// MealPlan covers a date range with planned meals.
type MealPlan struct {
	ID        string          `json:"id" yaml:"id"`
	UserID    string          `json:"-" yaml:"user_id"`
	Name      string          `json:"name,omitempty" yaml:"name"`
	StartDate time.Time       `json:"startDate" yaml:"start_date"`
	EndDate   time.Time       `json:"endDate" yaml:"end_date"`
	Entries   []MealPlanEntry `json:"entries" yaml:"entries"`
	CreatedAt time.Time       `json:"createdAt" yaml:"created_at"`
}

// Covers reports whether t falls within the plan's date range, inclusive of both ends.
func (p MealPlan) Covers(t time.Time) bool {
	day := truncateDay(t)
	return !day.Before(truncateDay(p.StartDate)) && !day.After(truncateDay(p.EndDate))
}

// MealPlanEntry is one planned meal.
type MealPlanEntry struct {
	ID          string    `json:"id" yaml:"id"`
	Date        time.Time `json:"date" yaml:"date"`
	MealType    string    `json:"mealType" yaml:"meal_type"` // breakfast, lunch, dinner, snack
	RecipeID    string    `json:"recipeId,omitempty" yaml:"recipe_id"`
	RecipeTitle string    `json:"recipeTitle,omitempty" yaml:"recipe_title"`
	Servings    int       `json:"servings,omitempty" yaml:"servings"`
}

// ShoppingList is generated from a meal plan.
type ShoppingList struct {
	ID         string             `json:"id" yaml:"id"`
	UserID     string             `json:"-" yaml:"user_id"`
	MealPlanID string             `json:"mealPlanId" yaml:"meal_plan_id"`
	Items      []ShoppingListItem `json:"items" yaml:"items"`
	CreatedAt  time.Time          `json:"createdAt" yaml:"created_at"`
}

// ShoppingListItem is one line of a shopping list.
type ShoppingListItem struct {
	Name     string  `json:"name" yaml:"name"`
	Quantity float64 `json:"quantity,omitempty" yaml:"quantity"`
	Unit     string  `json:"unit,omitempty" yaml:"unit"`
	Category string  `json:"category,omitempty" yaml:"category"`
	Checked  bool    `json:"checked" yaml:"checked"`
}

// UserProfile holds a user's dietary profile and goals.
type UserProfile struct {
	UserID              string   `json:"-" yaml:"user_id"`
	DisplayName         string   `json:"displayName,omitempty" yaml:"display_name"`
	DietaryPreferences  []string `json:"dietaryPreferences" yaml:"dietary_preferences"`
	Allergies           []string `json:"allergies" yaml:"allergies"`
	Goals               []string `json:"goals" yaml:"goals"`
	HouseholdSize       int      `json:"householdSize" yaml:"household_size"`
	OnboardingCompleted bool     `json:"onboardingCompleted" yaml:"onboarding_completed"`
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
