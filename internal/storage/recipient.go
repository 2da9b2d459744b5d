package storage

import (
	"context"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/Startup-Consulting-Inc/newsletter/internal/email"
	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
)

// CreateGroup stores a new recipient group
func (s *BoltStore) CreateGroup(ctx context.Context, g *models.RecipientGroup) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	now := s.now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	g.MemberCount = 0

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		if b.Get([]byte(g.ID)) != nil {
			return fmt.Errorf("group %s: %w", g.ID, ErrDuplicate)
		}
		if _, err := tx.Bucket(bucketRecipients).CreateBucketIfNotExists([]byte(g.ID)); err != nil {
			return fmt.Errorf("failed to create member bucket: %w", err)
		}
		return putJSON(b, []byte(g.ID), g)
	})
}

// GetGroup retrieves a recipient group by ID
func (s *BoltStore) GetGroup(ctx context.Context, id string) (*models.RecipientGroup, error) {
	var g *models.RecipientGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		g, err = getGroup(tx, id)
		return err
	})
	return g, err
}

// ListGroupMembers returns the members of a group in insertion order
func (s *BoltStore) ListGroupMembers(ctx context.Context, groupID string) ([]models.Recipient, error) {
	members := []models.Recipient{}
	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := getGroup(tx, groupID); err != nil {
			return err
		}
		mb := tx.Bucket(bucketRecipients).Bucket([]byte(groupID))
		if mb == nil {
			return nil
		}
		return mb.ForEach(func(k, v []byte) error {
			var r models.Recipient
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal recipient: %w", err)
			}
			members = append(members, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// AddRecipient adds a recipient to its group. The address must be valid and
// unique within the group, compared case-insensitively.
func (s *BoltStore) AddRecipient(ctx context.Context, r *models.Recipient) error {
	r.Email = strings.TrimSpace(r.Email)
	if !email.Valid(r.Email) {
		return fmt.Errorf("invalid email address %q", r.Email)
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		g, err := getGroup(tx, r.GroupID)
		if err != nil {
			return err
		}

		emailKey := compositeKey(r.GroupID, email.Normalize(r.Email))
		emailIdx := tx.Bucket(bucketEmailIndex)
		if emailIdx.Get(emailKey) != nil {
			return fmt.Errorf("recipient %s in group %s: %w", r.Email, r.GroupID, ErrDuplicate)
		}
		recIdx := tx.Bucket(bucketRecipientIndex)
		if recIdx.Get([]byte(r.ID)) != nil {
			return fmt.Errorf("recipient %s: %w", r.ID, ErrDuplicate)
		}

		mb, err := tx.Bucket(bucketRecipients).CreateBucketIfNotExists([]byte(r.GroupID))
		if err != nil {
			return fmt.Errorf("failed to open member bucket: %w", err)
		}
		seq, err := mb.NextSequence()
		if err != nil {
			return err
		}
		memberKey := make([]byte, 8)
		binary.BigEndian.PutUint64(memberKey, seq)

		if err := putJSON(mb, memberKey, r); err != nil {
			return err
		}
		if err := emailIdx.Put(emailKey, []byte(r.ID)); err != nil {
			return fmt.Errorf("failed to update email index: %w", err)
		}
		if err := recIdx.Put([]byte(r.ID), compositeKey(r.GroupID, string(memberKey))); err != nil {
			return fmt.Errorf("failed to update recipient index: %w", err)
		}

		g.MemberCount++
		g.UpdatedAt = s.now()
		return putJSON(tx.Bucket(bucketGroups), []byte(g.ID), g)
	})
}

// GetRecipient retrieves a recipient by ID regardless of its group
func (s *BoltStore) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	var r *models.Recipient
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		r, _, err = getRecipient(tx, id)
		return err
	})
	return r, err
}

// RemoveRecipient deletes a recipient from its group
func (s *BoltStore) RemoveRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	var removed *models.Recipient
	err := s.db.Update(func(tx *bolt.Tx) error {
		r, memberKey, err := getRecipient(tx, id)
		if err != nil {
			return err
		}

		if mb := tx.Bucket(bucketRecipients).Bucket([]byte(r.GroupID)); mb != nil {
			if err := mb.Delete(memberKey); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketEmailIndex).Delete(compositeKey(r.GroupID, email.Normalize(r.Email))); err != nil {
			return err
		}
		if err := tx.Bucket(bucketRecipientIndex).Delete([]byte(id)); err != nil {
			return err
		}

		g, err := getGroup(tx, r.GroupID)
		if err == nil {
			if g.MemberCount > 0 {
				g.MemberCount--
			}
			g.UpdatedAt = s.now()
			if err := putJSON(tx.Bucket(bucketGroups), []byte(g.ID), g); err != nil {
				return err
			}
		}

		removed = r
		return nil
	})
	return removed, err
}

// ImportRecipients reads CSV rows into a group. The header must contain an
// email column; name columns are optional. Invalid and duplicate rows are
// skipped and reported.
func (s *BoltStore) ImportRecipients(ctx context.Context, groupID string, reader io.Reader) (*models.RecipientImportResult, error) {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}

	result := &models.RecipientImportResult{}

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	emailIdx, firstIdx, lastIdx, nameIdx := -1, -1, -1, -1
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(col))
		switch col {
		case "email", "e-mail", "email_address":
			emailIdx = i
		case "first_name", "firstname", "first name":
			firstIdx = i
		case "last_name", "lastname", "last name":
			lastIdx = i
		case "name", "full_name", "fullname":
			nameIdx = i
		}
	}

	if emailIdx == -1 {
		return nil, fmt.Errorf("email column not found in CSV")
	}

	column := func(record []string, idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		result.Total++
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", result.Total, err))
			result.Skipped++
			continue
		}

		addr := column(record, emailIdx)
		if addr == "" {
			result.Skipped++
			continue
		}

		first, last := column(record, firstIdx), column(record, lastIdx)
		if first == "" && last == "" {
			first, last = splitName(column(record, nameIdx))
		}

		rec := &models.Recipient{
			GroupID:   groupID,
			Email:     addr,
			FirstName: first,
			LastName:  last,
		}
		if err := s.AddRecipient(ctx, rec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d (%s): %v", result.Total, addr, err))
			result.Skipped++
			continue
		}

		result.Imported++
	}

	return result, nil
}

func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	first, last, _ := strings.Cut(full, " ")
	return first, strings.TrimSpace(last)
}

func getGroup(tx *bolt.Tx, id string) (*models.RecipientGroup, error) {
	data := tx.Bucket(bucketGroups).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	var g models.RecipientGroup
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group: %w", err)
	}
	return &g, nil
}

// getRecipient resolves a recipient through the recipient index and returns
// it with its key inside the group's member bucket
func getRecipient(tx *bolt.Tx, id string) (*models.Recipient, []byte, error) {
	loc := tx.Bucket(bucketRecipientIndex).Get([]byte(id))
	if loc == nil {
		return nil, nil, fmt.Errorf("recipient %s: %w", id, ErrNotFound)
	}
	sep := -1
	for i, c := range loc {
		if c == keySep {
			sep = i
			break
		}
	}
	if sep < 0 {
		return nil, nil, fmt.Errorf("corrupt recipient index entry for %s", id)
	}
	groupID := string(loc[:sep])
	memberKey := append([]byte(nil), loc[sep+1:]...)

	mb := tx.Bucket(bucketRecipients).Bucket([]byte(groupID))
	if mb == nil {
		return nil, nil, fmt.Errorf("recipient %s: %w", id, ErrNotFound)
	}
	data := mb.Get(memberKey)
	if data == nil {
		return nil, nil, fmt.Errorf("recipient %s: %w", id, ErrNotFound)
	}
	var r models.Recipient
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal recipient: %w", err)
	}
	return &r, memberKey, nil
}
