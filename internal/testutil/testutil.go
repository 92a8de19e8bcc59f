package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	boqentity "github.com/brightfog/kunlun/internal/boq/entity"
	catalogentity "github.com/brightfog/kunlun/internal/catalog/entity"
	changeentity "github.com/brightfog/kunlun/internal/change/entity"
	"github.com/brightfog/kunlun/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestSchema = "test_erp"
	JWTSecret  = "kunlun-erp-jwt-secret-key-2026"
)

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// loadEnv loads .env from the project root
func loadEnv() {
	root := projectRoot()
	if root != "" {
		godotenv.Load(filepath.Join(root, ".env"))
	}
}

// SetupTestDB creates a test database connection using a dedicated test schema.
// Each test gets an isolated schema that is cleaned up after the test.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "kunlun")
	password := getEnv("DB_PASSWORD", "kunlun123")
	dbname := getEnv("DB_NAME", "kunlun_erp")

	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	schemaName := fmt.Sprintf("%s_%d", TestSchema, time.Now().UnixNano()%1000000)

	// First: create schema using a temporary connection
	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to database for schema setup: %v", err)
	}
	setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	sqlSetup, _ := setupDB.DB()
	sqlSetup.Close()

	// Second: open connection with search_path in DSN so ALL pooled connections use test schema
	testDSN := fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)
	db, err := gorm.Open(postgres.Open(testDSN), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	err = db.AutoMigrate(
		&boqentity.BOQ{},
		&boqentity.BOQItem{},
		&catalogentity.CatalogItem{},
		&catalogentity.Vendor{},
		&changeentity.ChangeRequest{},
		&changeentity.MaterialLine{},
		&changeentity.CRApproval{},
		&changeentity.ChangeHistory{},
		&changeentity.POChild{},
		&changeentity.RoutedMaterial{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			sqlClean, _ := cleanDB.DB()
			if sqlClean != nil {
				sqlClean.Close()
			}
		}
	})

	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, role string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"uid":  userID,
		"name": name,
		"email": name + "@test.com",
		"role": role,
		"iss":  "kunlun-erp",
		"iat":  now.Unix(),
		"exp":  now.Add(24 * time.Hour).Unix(),
		"jti":  fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for a default admin test user
func DefaultTestToken() string {
	return GenerateTestToken("test-user-001", "Test Admin", "admin")
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a handler.Response-like map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedBOQ creates a published BOQ with a single item carrying the given margin
func SeedBOQ(t *testing.T, db *gorm.DB, projectID string, margin float64) *boqentity.BOQ {
	t.Helper()
	boq := &boqentity.BOQ{
		ID:        uuid.New().String()[:32],
		Code:      fmt.Sprintf("BOQ-TEST-%d", time.Now().UnixNano()%100000),
		ProjectID: projectID,
		Name:      "Test BOQ",
		Status:    boqentity.BOQStatusPublished,
		Items: []boqentity.BOQItem{
			{
				ID:               uuid.New().String()[:32],
				Name:             "Test item",
				Unit:             "m2",
				Quantity:         1,
				ClientAmount:     margin * 2,
				MaterialCost:     margin,
				NegotiableMargin: margin,
				SortOrder:        1,
			},
		},
	}
	for i := range boq.Items {
		boq.Items[i].BOQID = boq.ID
	}
	if err := db.Create(boq).Error; err != nil {
		t.Fatalf("Failed to seed BOQ: %v", err)
	}
	return boq
}

// SeedVendor creates a test vendor
func SeedVendor(t *testing.T, db *gorm.DB, name string) *catalogentity.Vendor {
	t.Helper()
	vendor := &catalogentity.Vendor{
		ID:     uuid.New().String()[:32],
		Code:   fmt.Sprintf("V-%d", time.Now().UnixNano()%1000000),
		Name:   name,
		Status: catalogentity.VendorStatusActive,
	}
	if err := db.Create(vendor).Error; err != nil {
		t.Fatalf("Failed to seed vendor: %v", err)
	}
	return vendor
}

// SeedCatalogItem creates a test catalog item
func SeedCatalogItem(t *testing.T, db *gorm.DB, name string, price float64) *catalogentity.CatalogItem {
	t.Helper()
	item := &catalogentity.CatalogItem{
		ID:             uuid.New().String()[:32],
		Code:           fmt.Sprintf("MAT-%d", time.Now().UnixNano()%1000000),
		Name:           name,
		Unit:           "pcs",
		ReferencePrice: price,
		Status:         catalogentity.CatalogStatusActive,
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("Failed to seed catalog item: %v", err)
	}
	return item
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
