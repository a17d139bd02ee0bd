package db

import (
	"encoding/csv"
	"os"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type userRecord struct {
	Name    string
	Friends []string
}

// LoadUsers reads "name,friend;friend" rows from a CSV and upserts the users
// and both directions of every friendship.
func LoadUsers(conn *gorm.DB, path string) (int, error) {
	if conn == nil {
		return 0, nil
	}
	records, err := readUsers(path)
	if err != nil {
		return 0, err
	}
	ids := make(map[string]int64, len(records))
	ensure := func(tx *gorm.DB, name string) (int64, error) {
		if id, ok := ids[name]; ok {
			return id, nil
		}
		user := User{Name: name}
		if err := tx.FirstOrCreate(&user, User{Name: name}).Error; err != nil {
			return 0, err
		}
		ids[name] = user.ID
		return user.ID, nil
	}
	inserted := 0
	err = conn.Transaction(func(tx *gorm.DB) error {
		for _, record := range records {
			userID, err := ensure(tx, record.Name)
			if err != nil {
				return err
			}
			inserted++
			for _, friend := range record.Friends {
				friendID, err := ensure(tx, friend)
				if err != nil {
					return err
				}
				if friendID == userID {
					continue
				}
				pairs := []UserFriend{
					{UserID: userID, FriendID: friendID},
					{UserID: friendID, FriendID: userID},
				}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&pairs).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	return inserted, err
}

func readUsers(path string) ([]userRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var records []userRecord
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) == 0 {
			continue
		}
		name := strings.TrimSpace(row[0])
		if name == "" {
			continue
		}
		record := userRecord{Name: name}
		if len(row) >= 2 {
			for _, friend := range strings.Split(row[1], ";") {
				if friend = strings.TrimSpace(friend); friend != "" {
					record.Friends = append(record.Friends, friend)
				}
			}
		}
		records = append(records, record)
	}
	return records, nil
}
