package game

// newBoard returns a size×size grid. The empty string marks a free cell.
func newBoard(size int) [][]string {
	board := make([][]string, size)
	for i := range board {
		board[i] = make([]string, size)
	}
	return board
}

func copyBoard(board [][]string) [][]string {
	out := make([][]string, len(board))
	for i, row := range board {
		out[i] = make([]string, len(row))
		copy(out[i], row)
	}
	return out
}

// checkWin reports whether the move at (row, col) completed a full row,
// column or diagonal of symbol. Only the lines through the move are
// scanned; diagonals only when the move lies on them.
func checkWin(board [][]string, row, col int, symbol string) bool {
	size := len(board)

	won := true
	for c := 0; c < size; c++ {
		if board[row][c] != symbol {
			won = false
			break
		}
	}
	if won {
		return true
	}

	won = true
	for r := 0; r < size; r++ {
		if board[r][col] != symbol {
			won = false
			break
		}
	}
	if won {
		return true
	}

	if row == col {
		won = true
		for i := 0; i < size; i++ {
			if board[i][i] != symbol {
				won = false
				break
			}
		}
		if won {
			return true
		}
	}

	if row+col == size-1 {
		won = true
		for i := 0; i < size; i++ {
			if board[i][size-1-i] != symbol {
				won = false
				break
			}
		}
		if won {
			return true
		}
	}

	return false
}

// isBoardFull reports whether no free cell remains. With no winning line
// this is the tie condition.
func isBoardFull(board [][]string) bool {
	for _, row := range board {
		for _, cell := range row {
			if cell == "" {
				return false
			}
		}
	}
	return true
}
