package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/tutorhub-api/internal/curriculum"
	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
	"github.com/noah-isme/tutorhub-api/pkg/events"
)

// ProgramService manages program templates.
type ProgramService struct {
	tx         txRunner
	programs   programStore
	dispatcher effectDispatcher
	validator  *validator.Validate
	logger     *zap.Logger
}

// programDocument is the operator import format.
type programDocument struct {
	Name       string            `yaml:"name"`
	Curriculum []curriculum.Item `yaml:"curriculum"`
}

// NewProgramService constructs ProgramService.
func NewProgramService(tx txRunner, programs programStore, dispatcher effectDispatcher, validate *validator.Validate, logger *zap.Logger) *ProgramService {
	if validate == nil {
		validate = dto.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgramService{tx: tx, programs: programs, dispatcher: dispatcher, validator: validate, logger: logger}
}

// Get returns a program with its template tree.
func (s *ProgramService) Get(ctx context.Context, id string) (*models.Program, error) {
	program, err := s.programs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, notFoundOr(err, "program not found", "failed to load program")
	}
	return program, nil
}

// CreateProgram validates the curriculum document and stores the program.
func (s *ProgramService) CreateProgram(ctx context.Context, req dto.CreateProgramRequest) (*models.Program, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid program payload")
	}
	tree, err := curriculum.Parse(req.Curriculum)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid curriculum")
	}

	program := &models.Program{Name: req.Name, Curriculum: *tree}
	err = runInTx(ctx, "programs.create", s.tx, s.dispatcher, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
		if err := s.programs.Create(ctx, exec, program); err != nil {
			return passThrough(err, "failed to create program")
		}
		fx.event(events.TypeProgramCreated, map[string]interface{}{
			"program_id": program.ID,
			"name":       program.Name,
			"items":      tree.Len(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("program created", zap.String("program_id", program.ID), zap.Int("items", tree.Len()))
	return program, nil
}

// ImportYAML creates a program from a YAML document holding name and curriculum.
func (s *ProgramService) ImportYAML(ctx context.Context, data []byte) (*models.Program, error) {
	var doc programDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid program document")
	}
	if doc.Curriculum == nil {
		doc.Curriculum = []curriculum.Item{}
	}
	raw, err := json.Marshal(doc.Curriculum)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to encode curriculum")
	}
	return s.CreateProgram(ctx, dto.CreateProgramRequest{Name: doc.Name, Curriculum: raw})
}
