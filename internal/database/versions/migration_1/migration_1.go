package migration_1

import (
	"fmt"

	"gorm.io/gorm"
)

// BalanceJob only declares the columns this migration adds.
type BalanceJob struct {
	Iterations int  `gorm:"default:0"`
	Converged  bool `gorm:"default:false"`
}

func Migration(db *gorm.DB) error {
	for _, column := range []string{"iterations", "converged"} {
		if db.Migrator().HasColumn(&BalanceJob{}, column) {
			continue
		}
		if err := db.Migrator().AddColumn(&BalanceJob{}, column); err != nil {
			return fmt.Errorf("error adding %s column: %w", column, err)
		}
	}

	// Jobs completed before the search diagnostics were stored are reported as converged.
	if err := db.Model(&BalanceJob{}).
		Where("status = ?", "COMPLETED").
		Update("converged", true).Error; err != nil {
		return fmt.Errorf("error backfilling converged column: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	for _, column := range []string{"iterations", "converged"} {
		if err := db.Migrator().DropColumn(&BalanceJob{}, column); err != nil {
			return fmt.Errorf("error dropping %s column: %w", column, err)
		}
	}

	return nil
}
