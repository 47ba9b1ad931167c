package auth

import (
	"context"
	"fmt"
	"time"

	"venue/internal/db"
	"venue/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService handles participant authentication
type AuthService struct {
	DB     *db.DB
	secret []byte
}

// NewAuthService creates a new auth service signing tokens with secret
func NewAuthService(db *db.DB, secret string) *AuthService {
	return &AuthService{DB: db, secret: []byte(secret)}
}

// Register creates a new participant with hashed password
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.Participant, error) {
	// Validate input
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}

	// Hash the password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	// Create participant in database
	participant, err := s.DB.CreateParticipant(ctx, username, string(hashedPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	return participant, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	// Get participant from database
	participant, err := s.DB.GetParticipantByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(participant.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	// Generate JWT
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"trader_id": participant.ID,
		"username":  participant.Username,
		"exp":       time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetTraderFromToken extracts the trader id from a JWT
func (s *AuthService) GetTraderFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		traderID, ok := claims["trader_id"].(float64)
		if !ok {
			return 0, fmt.Errorf("token missing trader_id claim")
		}
		return int(traderID), nil
	}
	return 0, fmt.Errorf("invalid token")
}
