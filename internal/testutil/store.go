// Package testutil provides in-memory fakes of the persistence and blob
// collaborators for unit tests.
package testutil

import (
	"fmt"
	"sync"

	"github.com/myinspectra/inspectra-go/internal/blobstore"
	"github.com/myinspectra/inspectra-go/internal/datastore"
)

// Store is an in-memory datastore.Interface implementation with the same
// upsert key semantics as the GORM stores.
type Store struct {
	mu     sync.Mutex
	nextID uint

	Cases       map[uint]*datastore.CaseRequest
	RawImages   map[uint]*datastore.RawImage // keyed by case ID
	DicomFiles  map[uint]*datastore.DicomFile
	Profiles    map[string]*datastore.Profile
	Predictions map[string]*datastore.DiseasePrediction // key case/disease/version
	Heatmaps    map[uint]*datastore.Heatmap             // keyed by prediction ID
	Masks       map[string]*datastore.SegmentationMask
	Overlays    map[string]*datastore.OverlayHeatmap
	Processed   map[string]*datastore.ProcessedHeatmap

	// FailWith, when set, is returned by every subsequent write operation to
	// simulate an unreachable store.
	FailWith error
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		Cases:       make(map[uint]*datastore.CaseRequest),
		RawImages:   make(map[uint]*datastore.RawImage),
		DicomFiles:  make(map[uint]*datastore.DicomFile),
		Profiles:    make(map[string]*datastore.Profile),
		Predictions: make(map[string]*datastore.DiseasePrediction),
		Heatmaps:    make(map[uint]*datastore.Heatmap),
		Masks:       make(map[string]*datastore.SegmentationMask),
		Overlays:    make(map[string]*datastore.OverlayHeatmap),
		Processed:   make(map[string]*datastore.ProcessedHeatmap),
	}
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

func predictionKey(caseID uint, name, version string) string {
	return fmt.Sprintf("%d/%s/%s", caseID, name, version)
}

func overlayKey(caseID uint, version string) string {
	return fmt.Sprintf("%d/%s", caseID, version)
}

func (s *Store) Open() error  { return nil }
func (s *Store) Close() error { return nil }

func (s *Store) CreateCaseRequest(requestID string) (*datastore.CaseRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	cr := &datastore.CaseRequest{ID: s.id(), RequestID: requestID}
	s.Cases[cr.ID] = cr
	return cr, nil
}

func (s *Store) GetCaseRequest(requestID string) (*datastore.CaseRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cr := range s.Cases {
		if cr.RequestID == requestID {
			return cr, nil
		}
	}
	return nil, datastore.ErrNotFound
}

func (s *Store) markCase(caseID uint, set func(*datastore.CaseRequest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	cr, ok := s.Cases[caseID]
	if !ok {
		return datastore.ErrNotFound
	}
	set(cr)
	return nil
}

func (s *Store) MarkCaseUploaded(caseID uint) error {
	return s.markCase(caseID, func(cr *datastore.CaseRequest) { cr.SuccessUpload = true })
}

func (s *Store) MarkCaseProcessed(caseID uint) error {
	return s.markCase(caseID, func(cr *datastore.CaseRequest) { cr.SuccessProcess = true })
}

func (s *Store) MarkCaseResponded(caseID uint) error {
	return s.markCase(caseID, func(cr *datastore.CaseRequest) { cr.SuccessResponse = true })
}

func (s *Store) SaveRawImage(img *datastore.RawImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	img.ID = s.id()
	s.RawImages[img.CaseRequestID] = img
	return nil
}

func (s *Store) UpdateRawImageDimensions(imageID uint, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range s.RawImages {
		if img.ID == imageID {
			img.Width, img.Height = width, height
			return nil
		}
	}
	return datastore.ErrNotFound
}

func (s *Store) GetRawImage(caseID uint) (*datastore.RawImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.RawImages[caseID]
	if !ok {
		return nil, datastore.ErrNotFound
	}
	return img, nil
}

func (s *Store) SaveDicomFile(file *datastore.DicomFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	file.ID = s.id()
	s.DicomFiles[file.CaseRequestID] = file
	return nil
}

func (s *Store) SyncProfile(profile *datastore.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if profile.ID == 0 {
		profile.ID = s.id()
	}
	s.Profiles[profile.Version] = profile
	return nil
}

func (s *Store) GetProfiles() ([]datastore.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles := make([]datastore.Profile, 0, len(s.Profiles))
	for _, p := range s.Profiles {
		profiles = append(profiles, *p)
	}
	return profiles, nil
}

func (s *Store) UpsertDiseasePrediction(p *datastore.DiseasePrediction) (*datastore.DiseasePrediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	key := predictionKey(p.CaseRequestID, p.DiseaseName, p.ModelVersion)
	if existing, ok := s.Predictions[key]; ok {
		existing.PredictionValue = p.PredictionValue
		existing.BalancedScore = p.BalancedScore
		existing.ThresholdedPercentage = p.ThresholdedPercentage
		return existing, nil
	}
	stored := *p
	stored.ID = s.id()
	s.Predictions[key] = &stored
	return &stored, nil
}

func (s *Store) UpsertHeatmap(h *datastore.Heatmap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	if existing, ok := s.Heatmaps[h.DiseasePredictionID]; ok {
		existing.BlobPath = h.BlobPath
		existing.Width, existing.Height, existing.FileSize = h.Width, h.Height, h.FileSize
		return nil
	}
	stored := *h
	stored.ID = s.id()
	s.Heatmaps[h.DiseasePredictionID] = &stored
	return nil
}

func (s *Store) UpsertSegmentationMask(m *datastore.SegmentationMask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	key := predictionKey(m.CaseRequestID, m.ClassName, m.ModelVersion)
	if existing, ok := s.Masks[key]; ok {
		existing.BlobPath = m.BlobPath
		existing.Width, existing.Height, existing.FileSize = m.Width, m.Height, m.FileSize
		return nil
	}
	stored := *m
	stored.ID = s.id()
	s.Masks[key] = &stored
	return nil
}

func (s *Store) UpsertOverlayHeatmap(o *datastore.OverlayHeatmap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	key := overlayKey(o.CaseRequestID, o.ModelVersion)
	if existing, ok := s.Overlays[key]; ok {
		existing.BlobPath = o.BlobPath
		existing.FileSize = o.FileSize
		return nil
	}
	stored := *o
	stored.ID = s.id()
	s.Overlays[key] = &stored
	return nil
}

func (s *Store) UpsertProcessedHeatmap(p *datastore.ProcessedHeatmap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	key := predictionKey(p.CaseRequestID, p.DiseaseName, p.ModelVersion)
	if existing, ok := s.Processed[key]; ok {
		existing.BlobPath = p.BlobPath
		existing.FileSize = p.FileSize
		return nil
	}
	stored := *p
	stored.ID = s.id()
	s.Processed[key] = &stored
	return nil
}

func (s *Store) GetPredictions(caseID uint, version string) ([]datastore.DiseasePrediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []datastore.DiseasePrediction
	for _, p := range s.Predictions {
		if p.CaseRequestID == caseID && p.ModelVersion == version {
			copied := *p
			if h, ok := s.Heatmaps[p.ID]; ok {
				heatmap := *h
				copied.Heatmap = &heatmap
			}
			out = append(out, copied)
		}
	}
	return out, nil
}

func (s *Store) GetSegmentationMasks(caseID uint, version string) ([]datastore.SegmentationMask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []datastore.SegmentationMask
	for _, m := range s.Masks {
		if m.CaseRequestID == caseID && m.ModelVersion == version {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *Store) GetOverlayHeatmap(caseID uint, version string) (*datastore.OverlayHeatmap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.Overlays[overlayKey(caseID, version)]
	if !ok {
		return nil, datastore.ErrNotFound
	}
	return o, nil
}

// BlobStore is an in-memory blobstore.Store without native paths, forcing
// callers through the temp materialization path.
type BlobStore struct {
	mu    sync.Mutex
	Blobs map[string][]byte
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{Blobs: make(map[string][]byte)}
}

func (b *BlobStore) Save(path string, data []byte) (blobstore.Ref, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	b.Blobs[path] = copied
	return blobstore.Ref(path), nil
}

func (b *BlobStore) Open(ref blobstore.Ref) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.Blobs[string(ref)]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", ref)
	}
	return data, nil
}

func (b *BlobStore) NativePath(ref blobstore.Ref) (string, bool) {
	return "", false
}
